// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package ldap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesOriginalDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "dc=example,dc=org", cfg.Base)
	require.Equal(t, "(&(objectClass=inetOrgPerson)(cn=*))", cfg.Filter)
	require.Contains(t, cfg.Attributes, "sAMAccountName")
	require.Contains(t, cfg.Attributes, "email")
	require.EqualValues(t, 1000, cfg.ResultsPerPage)
}

func TestSourceName(t *testing.T) {
	s := New("ldap-users", Connection{URL: "ldap://localhost:389"}, DefaultConfig(), nil, nil, nil)
	require.Equal(t, "ldap-users", s.Name())
}
