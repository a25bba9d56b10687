// Copyright 2026 The EntityKit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gcpdatastore

import "strings"

// A NamespaceStrategy maps tenants onto Datastore namespaces. Every key the
// collection reads or writes, and the partition of every query it issues,
// carries the namespace the strategy returns for the collection's tenant.
// The strategy is consulted once, when the collection is opened.
type NamespaceStrategy interface {
	// PartitionIDFor returns the namespace ID for the given tenant.
	// It must return the empty string for the empty tenant, which selects
	// the default namespace.
	PartitionIDFor(tenantID string) string

	// TenantIDFor is the inverse of PartitionIDFor. It returns the tenant
	// that owns the given namespace ID, or the empty string if the
	// namespace does not belong to this strategy.
	TenantIDFor(namespaceID string) string
}

// PassthroughNamespace uses the tenant ID itself as the namespace ID.
// It is the default strategy.
type PassthroughNamespace struct{}

// PartitionIDFor implements NamespaceStrategy.
func (PassthroughNamespace) PartitionIDFor(tenantID string) string { return tenantID }

// TenantIDFor implements NamespaceStrategy.
func (PassthroughNamespace) TenantIDFor(namespaceID string) string { return namespaceID }

// PrefixNamespace prepends a fixed prefix to tenant IDs, so that several
// deployments can share one Datastore project without namespace collisions.
// The empty tenant still maps to the default namespace.
type PrefixNamespace struct {
	Prefix string
}

// PartitionIDFor implements NamespaceStrategy.
func (p PrefixNamespace) PartitionIDFor(tenantID string) string {
	if tenantID == "" {
		return ""
	}
	return p.Prefix + tenantID
}

// TenantIDFor implements NamespaceStrategy.
func (p PrefixNamespace) TenantIDFor(namespaceID string) string {
	if namespaceID == "" {
		return ""
	}
	if !strings.HasPrefix(namespaceID, p.Prefix) {
		return ""
	}
	return strings.TrimPrefix(namespaceID, p.Prefix)
}
