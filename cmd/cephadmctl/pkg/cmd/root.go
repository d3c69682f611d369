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

package cmd

import metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

// CtxKey namespaces values cephadmctl stashes on a cobra.Command's context
// via PersistentPreRunE, typed to avoid collisions with other context
// users.
type CtxKey string

// CtxKeyCRClient is the context key main.go stores the controller-runtime
// client under in PersistentPreRunE, for subcommands to retrieve.
const CtxKeyCRClient CtxKey = "crClient"

const ctxKeyCRClient = CtxKeyCRClient

func metaObject(name, namespace string) metav1.ObjectMeta {
	return metav1.ObjectMeta{Name: name, Namespace: namespace}
}
