package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// ErrNoSnapshot is returned by Latest when nothing was saved yet.
var ErrNoSnapshot = errors.New("no snapshot saved")

// Store persists inventory snapshots
type Store interface {
	Save(ctx context.Context, s *Snapshot) error
	Latest(ctx context.Context) (*Snapshot, error)
	Close() error
}

// FileStore keeps the latest snapshot in a JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the snapshot, replacing the previous one.
func (f *FileStore) Save(_ context.Context, s *Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// Latest reads the snapshot file.
func (f *FileStore) Latest(_ context.Context) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// Close is a no-op.
func (f *FileStore) Close() error { return nil }

const (
	snapshotPrefix = "/cloudfleet/snapshots/"
	latestKey      = "/cloudfleet/latest"
)

// EtcdStore keeps every snapshot in etcd under its id and the most recent
// one under a fixed key.
type EtcdStore struct {
	kv     clientv3.KV
	closer io.Closer
}

// NewEtcdStore connects to the given etcd endpoints.
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdStore{kv: cli, closer: cli}, nil
}

// Save stores the snapshot under its id and marks it as the latest.
func (e *EtcdStore) Save(ctx context.Context, s *Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if _, err := e.kv.Put(ctx, snapshotPrefix+s.ID, string(data)); err != nil {
		return fmt.Errorf("failed to save snapshot to etcd: %w", err)
	}
	if _, err := e.kv.Put(ctx, latestKey, s.ID); err != nil {
		return fmt.Errorf("failed to update latest snapshot in etcd: %w", err)
	}
	return nil
}

// Latest returns the most recently saved snapshot.
func (e *EtcdStore) Latest(ctx context.Context) (*Snapshot, error) {
	resp, err := e.kv.Get(ctx, latestKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNoSnapshot
	}
	id := string(resp.Kvs[0].Value)

	resp, err = e.kv.Get(ctx, snapshotPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("snapshot not found: %s", id)
	}
	var s Snapshot
	if err := json.Unmarshal(resp.Kvs[0].Value, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// Close closes the etcd client connection
func (e *EtcdStore) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

// OpenStore returns an etcd store when endpoints are configured and a file
// store otherwise.
func OpenStore(stateFile string, etcdEndpoints []string) (Store, error) {
	if len(etcdEndpoints) > 0 {
		return NewEtcdStore(etcdEndpoints)
	}
	return NewFileStore(stateFile), nil
}
