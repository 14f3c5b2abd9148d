package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// broadcastFile mirrors the parts of a Foundry broadcast run file the service reads.
type broadcastFile struct {
	Transactions []DeploymentRecord `json:"transactions"`
	Chain        uint64             `json:"chain"`
}

// Parse decodes a broadcast run file.
func Parse(data []byte) (*Ledger, error) {
	var file broadcastFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	return New(file.Chain, file.Transactions), nil
}

// LoadFile reads and parses a broadcast run file from disk.
func LoadFile(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return Parse(data)
}

// Source yields the current ledger.
type Source interface {
	Load(ctx context.Context) (*Ledger, error)
}

// Static always returns the same ledger.
type Static struct {
	Ledger *Ledger
}

func (s Static) Load(context.Context) (*Ledger, error) {
	if s.Ledger == nil {
		return nil, fmt.Errorf("ledger is nil")
	}
	return s.Ledger, nil
}

// FileSource re-reads the ledger file on every Load, so redeployments are picked up
// without a restart.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Load(ctx context.Context) (*Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadFile(s.Path)
}
