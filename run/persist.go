/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Seednode/tierbox/storage"
)

const (
	DefaultRunKey      = "run-v1"
	DefaultSettingsKey = "settings-v1"
)

// Persister keeps run and settings snapshots in a store as JSON documents.
type Persister struct {
	Store       storage.Store
	RunKey      string
	SettingsKey string
}

func (p *Persister) runKey() string {
	if p.RunKey == "" {
		return DefaultRunKey
	}

	return p.RunKey
}

func (p *Persister) settingsKey() string {
	if p.SettingsKey == "" {
		return DefaultSettingsKey
	}

	return p.SettingsKey
}

// load decodes the document under key. Missing and undecodable documents are
// both reported as absent.
func (p *Persister) load(ctx context.Context, key string) (any, bool, error) {
	data, err := p.Store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, nil
	}

	return raw, true, nil
}

func (p *Persister) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if err := p.Store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}

	return nil
}

func (p *Persister) LoadRun(ctx context.Context) (any, bool, error) {
	return p.load(ctx, p.runKey())
}

func (p *Persister) LoadSettings(ctx context.Context) (any, bool, error) {
	return p.load(ctx, p.settingsKey())
}

func (p *Persister) SaveRun(ctx context.Context, s State) error {
	return p.save(ctx, p.runKey(), s)
}

func (p *Persister) SaveSettings(ctx context.Context, s Settings) error {
	return p.save(ctx, p.settingsKey(), s)
}

// Clear drops both snapshots.
func (p *Persister) Clear(ctx context.Context) error {
	return errors.Join(
		p.Store.Delete(ctx, p.runKey()),
		p.Store.Delete(ctx, p.settingsKey()),
	)
}
