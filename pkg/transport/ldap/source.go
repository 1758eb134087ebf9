// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Package ldap implements the paged-search LDAP source described in
// original_source/bspump/ldap/source.py, ported from python-ldap's
// SimplePagedResultsControl loop onto github.com/go-ldap/ldap/v3, with the
// blocking directory search offloaded through pkg/proactor the same way the
// original hands _search_worker to its ProactorService.
package ldap

import (
	"context"
	"fmt"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/elastic/elastic-agent-libs/logp"

	"github.com/fluxpump/fluxpump/pkg/pipeline"
	"github.com/fluxpump/fluxpump/pkg/proactor"
)

// Connection is what a pipeline registers under a connection name for the
// Source to locate via pipeline.LocateConnection, matching
// "self.Connection = pipeline.locate_connection(app, connection)".
type Connection struct {
	URL      string
	BindDN   string
	Password string
}

// dial opens a fresh *ldap.Conn, matching the original's
// "with self.Connection.ldap_client() as client".
func (c Connection) dial() (*goldap.Conn, error) {
	conn, err := goldap.DialURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("ldap: failed to dial %q: %w", c.URL, err)
	}
	if c.BindDN != "" {
		if err := conn.Bind(c.BindDN, c.Password); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ldap: bind as %q failed: %w", c.BindDN, err)
		}
	}
	return conn, nil
}

// Config mirrors LDAPSource's ConfigDefaults.
type Config struct {
	Base            string
	Filter          string
	Attributes      []string
	ResultsPerPage  uint32
}

// DefaultConfig matches the original's ConfigDefaults.
func DefaultConfig() Config {
	return Config{
		Base:           "dc=example,dc=org",
		Filter:         "(&(objectClass=inetOrgPerson)(cn=*))",
		Attributes:     []string{"sAMAccountName", "cn", "createTimestamp", "modifyTimestamp", "UserAccountControl", "email"},
		ResultsPerPage: 1000,
	}
}

// Source is a pipeline.Source that runs one paged LDAP search per cycle,
// emitting one event per entry, matching LDAPSource.cycle.
type Source struct {
	id       string
	conn     Connection
	cfg      Config
	proactor *proactor.Service
	log      *logp.Logger

	pulses <-chan struct{}
}

// New builds a Source. pulses is normally a trigger.Coalescer's channel
// (see pkg/trigger); the source runs one cycle per pulse.
func New(id string, conn Connection, cfg Config, pool *proactor.Service, pulses <-chan struct{}, log *logp.Logger) *Source {
	if log == nil {
		log = logp.NewLogger("ldap")
	}
	return &Source{id: id, conn: conn, cfg: cfg, proactor: pool, pulses: pulses, log: log.With("source", id)}
}

func (s *Source) Name() string { return s.id }

// Main awaits pulses and runs one paged-search cycle per pulse: each pulse
// enqueues one cycle of the paged search.
func (s *Source) Main(ctx context.Context, p *pipeline.Pipeline) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-s.pulses:
			if !ok {
				return nil
			}
			if err := s.cycle(ctx, p); err != nil {
				return err
			}
		}
	}
}

// cycle pages through the whole search result set, one event per entry,
// matching LDAPSource.cycle's cookie loop.
func (s *Source) cycle(ctx context.Context, p *pipeline.Pipeline) error {
	select {
	case <-p.Ready():
	case <-ctx.Done():
		return nil
	}

	var cookie []byte
	for {
		page, nextCookie, err := s.searchPage(ctx, cookie)
		if err != nil {
			return err
		}
		for _, entry := range page {
			if err := p.Process(ctx, pipeline.EventContext{}, entry); err != nil {
				return err
			}
		}
		if len(nextCookie) == 0 {
			return nil
		}
		cookie = nextCookie
	}
}

// searchPage offloads the blocking directory round-trip to the proactor
// pool, matching "await self.ProactorService.execute(self._search_worker,
// cookie)".
func (s *Source) searchPage(ctx context.Context, cookie []byte) ([]map[string]any, []byte, error) {
	type result struct {
		page   []map[string]any
		cookie []byte
	}
	v, err := s.proactor.Execute(ctx, func() (any, error) {
		page, next, err := s.searchWorker(cookie)
		return result{page: page, cookie: next}, err
	})
	if err != nil {
		return nil, nil, err
	}
	r := v.(result)
	return r.page, r.cookie, nil
}

// searchWorker performs one page of the paged search, matching
// LDAPSource._search_worker.
func (s *Source) searchWorker(cookie []byte) ([]map[string]any, []byte, error) {
	conn, err := s.conn.dial()
	if err != nil {
		return nil, nil, err
	}
	defer conn.Close()

	pagingControl := goldap.NewControlPaging(s.cfg.ResultsPerPage)
	if len(cookie) > 0 {
		pagingControl.SetCookie(cookie)
	}

	req := goldap.NewSearchRequest(
		s.cfg.Base,
		goldap.ScopeWholeSubtree,
		goldap.NeverDerefAliases,
		0, 0, false,
		s.cfg.Filter,
		s.cfg.Attributes,
		[]goldap.Control{pagingControl},
	)

	sr, err := conn.Search(req)
	if err != nil {
		return nil, nil, fmt.Errorf("ldap: search failed: %w", err)
	}

	page := make([]map[string]any, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		if entry.DN == "" {
			continue
		}
		event := map[string]any{"dn": entry.DN}
		for _, attr := range entry.Attributes {
			switch len(attr.Values) {
			case 0:
				continue
			case 1:
				event[attr.Name] = attr.Values[0]
			default:
				event[attr.Name] = attr.Values
			}
		}
		page = append(page, event)
	}

	ctrl := goldap.FindControl(sr.Controls, goldap.ControlTypePaging)
	if ctrl == nil {
		s.log.Errorw("server ignores RFC 2696 paging control: no serverctrls in result")
		return page, nil, nil
	}
	next := ctrl.(*goldap.ControlPaging).Cookie
	return page, next, nil
}
