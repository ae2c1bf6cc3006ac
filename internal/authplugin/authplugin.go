// Package authplugin implements component 4.L: a PAM-style authentication
// hook as a plain Go library (Authenticate(ctx, uid) (bool, error)), not a
// cgo PAM module. A real PAM binding would call into this package's exported
// function from a thin cgo shim kept outside this module's scope.
package authplugin

import (
	"context"
	"fmt"
	"os/user"
	"path/filepath"
	"strconv"

	"fpauthd/internal/busclient"
	"fpauthd/internal/config"
	"fpauthd/internal/template"
)

// ErrNoTemplates is returned when the caller's uid has no enrolled
// fingerprint templates to match against.
var ErrNoTemplates = fmt.Errorf("authplugin: no enrolled templates for this user")

// Authenticator resolves a uid's home directory and template store, then
// drives a match operation against the daemon over D-Bus.
type Authenticator struct {
	cfg *config.Config
}

// New builds an Authenticator reading bus/template configuration from cfg.
func New(cfg *config.Config) *Authenticator {
	return &Authenticator{cfg: cfg}
}

// Authenticate loads uid's enrolled templates, submits a match_finger
// operation, and blocks until the daemon decides match or no-match (or ctx's
// deadline expires). It returns (false, ErrNoTemplates) without contacting
// the daemon if uid has nothing enrolled.
func (a *Authenticator) Authenticate(ctx context.Context, uid uint32) (bool, error) {
	_, templates, err := a.loadTemplates(uid)
	if err != nil {
		return false, err
	}
	if len(templates) == 0 {
		return false, ErrNoTemplates
	}

	client, err := busclient.Dial(a.cfg.BusName, a.cfg.BusPath)
	if err != nil {
		return false, fmt.Errorf("authplugin: dial: %w", err)
	}
	defer client.Close()

	opID, err := client.MatchFinger(ctx, templates)
	if err != nil {
		return false, fmt.Errorf("authplugin: match_finger: %w", err)
	}
	defer client.ClearOperationResult(context.Background(), opID)

	if err := client.WaitForOperationStart(ctx, opID); err != nil {
		return false, fmt.Errorf("authplugin: wait for start: %w", err)
	}

	decided, matched, _, err := client.GetMatchResult(ctx, opID, true)
	if err != nil {
		return false, fmt.Errorf("authplugin: get match result: %w", err)
	}
	if !decided {
		return false, fmt.Errorf("authplugin: match operation ended without a decision")
	}
	return matched, nil
}

func (a *Authenticator) loadTemplates(uid uint32) (labels []string, templates [][]byte, err error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return nil, nil, fmt.Errorf("authplugin: lookup uid %d: %w", uid, err)
	}

	storeDir := a.cfg.TemplateStoreDir(u.HomeDir)
	store, err := template.Open(filepath.Join(storeDir, config.TemplateFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("authplugin: open template store: %w", err)
	}

	labels, templates = store.All()
	return labels, templates, nil
}
