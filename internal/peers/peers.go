// Package peers persists .synclite/peers.json: the leader's PeerId and the
// set of peers it knows about (spec section 6's on-disk layout). Load/save
// shape follows internal/client/config.Config's LoadFromFile/Save pair,
// adapted to the temp+rename atomic write internal/state already uses so
// both control files in .synclite/ are written the same way.
package peers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rarescovei5/synclite/internal/peerid"
	"github.com/rarescovei5/synclite/internal/syncerr"
	"github.com/rarescovei5/synclite/internal/syncpath"
)

const fileName = "peers.json"

// Config is the on-disk shape of .synclite/peers.json.
type Config struct {
	Leader peerid.PeerId   `json:"leader"`
	Peers  []peerid.PeerId `json:"peers"`

	path string
}

// Load reads .synclite/peers.json under root. If it does not exist, a fresh
// Config is returned with a newly generated Leader id and must be Saved by
// the caller to persist it.
func Load(root string) (*Config, error) {
	dir := filepath.Join(root, syncpath.ControlDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create control dir: %w", err)
	}
	path := filepath.Join(dir, fileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Leader: peerid.New(), path: path}, nil
		}
		return nil, fmt.Errorf("%w: read peers config: %v", syncerr.ErrIoError, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrStateCorrupt, err)
	}
	cfg.path = path
	if cfg.Leader == "" {
		cfg.Leader = peerid.New()
	}
	return &cfg, nil
}

// Save write-through persists the config via temp-then-rename.
func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal peers config: %v", syncerr.ErrIoError, err)
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, fileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp peers file: %v", syncerr.ErrIoError, err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("%w: write temp peers file: %v", syncerr.ErrIoError, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync temp peers file: %v", syncerr.ErrIoError, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp peers file: %v", syncerr.ErrIoError, err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("%w: rename peers file: %v", syncerr.ErrIoError, err)
	}

	success = true
	return nil
}

// AddPeer records a newly seen peer id, if not already known.
func (c *Config) AddPeer(id peerid.PeerId) {
	for _, p := range c.Peers {
		if p == id {
			return
		}
	}
	c.Peers = append(c.Peers, id)
}

// HasPeer reports whether id is already a known peer.
func (c *Config) HasPeer(id peerid.PeerId) bool {
	for _, p := range c.Peers {
		if p == id {
			return true
		}
	}
	return false
}
