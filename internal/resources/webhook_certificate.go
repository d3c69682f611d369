/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package resources builds the Kubernetes objects the controller manages
// directly, as opposed to the Ceph-side resources internal/upgrade drives
// through ClusterRPC/HostAgent.
package resources

import (
	"fmt"

	certv1 "github.com/cert-manager/cert-manager/pkg/apis/certmanager/v1"
	cmmeta "github.com/cert-manager/cert-manager/pkg/apis/meta/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// WebhookCertificateOptions names the webhook service and issuer the
// serving certificate is built for.
type WebhookCertificateOptions struct {
	Name       string
	Namespace  string
	SecretName string
	ServiceName string
	IssuerName string
	IssuerKind string
}

// BuildWebhookCertificate builds the cert-manager Certificate serving the
// CephUpgrade admission webhook's TLS endpoint, covering the four DNS
// names a ClusterIP service answers to inside the cluster.
func BuildWebhookCertificate(opts WebhookCertificateOptions) *certv1.Certificate {
	dnsNames := []string{
		opts.ServiceName,
		fmt.Sprintf("%s.%s", opts.ServiceName, opts.Namespace),
		fmt.Sprintf("%s.%s.svc", opts.ServiceName, opts.Namespace),
		fmt.Sprintf("%s.%s.svc.cluster.local", opts.ServiceName, opts.Namespace),
	}

	issuerKind := opts.IssuerKind
	if issuerKind == "" {
		issuerKind = "ClusterIssuer"
	}

	return &certv1.Certificate{
		ObjectMeta: metav1.ObjectMeta{
			Name:      opts.Name,
			Namespace: opts.Namespace,
		},
		Spec: certv1.CertificateSpec{
			SecretName: opts.SecretName,
			DNSNames:   dnsNames,
			CommonName: dnsNames[2],
			IssuerRef: cmmeta.ObjectReference{
				Name: opts.IssuerName,
				Kind: issuerKind,
			},
		},
	}
}
