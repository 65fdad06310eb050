// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package externals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPMailer is a thin net/http client for the outbound mail system
// described in spec.md §6. Rendering the mail body is explicitly out of
// scope (§1) — this client only delivers what report already constructed.
type HTTPMailer struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPMailer(baseURL string, client *http.Client) *HTTPMailer {
	return &HTTPMailer{BaseURL: baseURL, Client: client}
}

func (m *HTTPMailer) Send(ctx context.Context, mail Mail) error {
	body, err := json.Marshal(mail)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/mail/v1/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &mailSendError{StatusCode: resp.StatusCode}
	}
	return nil
}

type mailSendError struct {
	StatusCode int
}

func (e *mailSendError) Error() string {
	return fmt.Sprintf("externals: mail send failed [HTTP %d]", e.StatusCode)
}

var _ Mailer = (*HTTPMailer)(nil)
