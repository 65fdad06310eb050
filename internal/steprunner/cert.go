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

package steprunner

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
)

// mintTesterCertificate generates an EC P-256 key pair and a self-signed
// X.509 certificate valid for the given window, tagged with the CN
// deployTester records on the Run for public-system test jobs (§4.4).
func mintTesterCertificate(testerID externals.TesterId, jt jobmodel.JobType, runNumber int64, validity time.Duration, now time.Time) (string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("steprunner: generating tester key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", fmt.Errorf("steprunner: generating certificate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: fmt.Sprintf("%s.%s.%d", testerID.FullForm(), jt, runNumber),
		},
		NotBefore:             now,
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return "", fmt.Errorf("steprunner: signing tester certificate: %w", err)
	}

	block := &pem.Block{Type: "CERTIFICATE", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// certificateValid reports whether pemStr's certificate is valid at now:
// present, parseable, and within its notBefore/notAfter window. endTests
// treats an expired or not-yet-valid certificate as grounds to abort the
// run (§4.4).
func certificateValid(pemStr string, now time.Time) (bool, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return false, fmt.Errorf("steprunner: tester certificate is not valid PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false, fmt.Errorf("steprunner: parsing tester certificate: %w", err)
	}
	return !now.Before(cert.NotBefore) && !now.After(cert.NotAfter), nil
}
