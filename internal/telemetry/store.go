package telemetry

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"evalgo.org/fastvm/models"
)

var (
	hostBucket = []byte("host")
	vmsBucket  = []byte("vms")
)

// Store persists samples beyond the in-memory rings. Samples are keyed by
// timestamp so range reads and retention cleanup are cursor seeks.
type Store struct {
	db *bolt.DB
}

// OpenStore opens or creates the history database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(hostBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(vmsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is readable.
func (s *Store) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(hostBucket) == nil {
			return fmt.Errorf("history db has no host bucket")
		}
		return nil
	})
}

func key(t time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(t.UnixNano()))
	return k
}

// Append writes one frame in a single transaction.
func (s *Store) Append(frame models.MetricsFrame) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := put(tx.Bucket(hostBucket), frame.Host); err != nil {
			return err
		}
		vms := tx.Bucket(vmsBucket)
		for id, sample := range frame.VMs {
			b, err := vms.CreateBucketIfNotExists([]byte(id))
			if err != nil {
				return err
			}
			if err := put(b, sample); err != nil {
				return err
			}
		}
		return nil
	})
}

func put(b *bolt.Bucket, sample models.MetricSample) error {
	v, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return b.Put(key(sample.Timestamp), v)
}

// Range returns every sample newer than since, oldest first. A non-empty
// vmID restricts the VM part to that VM.
func (s *Store) Range(since time.Time, vmID string) (models.MetricsHistory, error) {
	out := models.MetricsHistory{Host: []models.MetricSample{}, VMs: map[string][]models.MetricSample{}}
	err := s.db.View(func(tx *bolt.Tx) error {
		host, err := scan(tx.Bucket(hostBucket), since)
		if err != nil {
			return err
		}
		out.Host = host

		vms := tx.Bucket(vmsBucket)
		if vmID != "" {
			if b := vms.Bucket([]byte(vmID)); b != nil {
				samples, err := scan(b, since)
				if err != nil {
					return err
				}
				out.VMs[vmID] = samples
			}
			return nil
		}
		return vms.ForEachBucket(func(k []byte) error {
			samples, err := scan(vms.Bucket(k), since)
			if err != nil {
				return err
			}
			if len(samples) > 0 {
				out.VMs[string(k)] = samples
			}
			return nil
		})
	})
	return out, err
}

func scan(b *bolt.Bucket, since time.Time) ([]models.MetricSample, error) {
	out := []models.MetricSample{}
	c := b.Cursor()
	from := key(since)
	for k, v := c.Seek(from); k != nil; k, v = c.Next() {
		if bytes.Equal(k, from) {
			continue
		}
		var sample models.MetricSample
		if err := json.Unmarshal(v, &sample); err != nil {
			return nil, fmt.Errorf("decode sample: %w", err)
		}
		out = append(out, sample)
	}
	return out, nil
}

// Cleanup deletes samples older than before and drops VM buckets left
// empty. It returns the number of deleted samples.
func (s *Store) Cleanup(before time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		n, err := trim(tx.Bucket(hostBucket), before)
		if err != nil {
			return err
		}
		deleted += n

		vms := tx.Bucket(vmsBucket)
		var empty [][]byte
		err = vms.ForEachBucket(func(k []byte) error {
			b := vms.Bucket(k)
			n, err := trim(b, before)
			if err != nil {
				return err
			}
			deleted += n
			if first, _ := b.Cursor().First(); first == nil {
				empty = append(empty, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range empty {
			if err := vms.DeleteBucket(k); err != nil {
				return err
			}
		}
		return nil
	})
	return deleted, err
}

// DeleteVM drops every stored sample of a VM.
func (s *Store) DeleteVM(vmID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(vmsBucket).DeleteBucket([]byte(vmID))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func trim(b *bolt.Bucket, before time.Time) (int, error) {
	limit := key(before)
	c := b.Cursor()
	n := 0
	for k, _ := c.First(); k != nil && bytes.Compare(k, limit) < 0; k, _ = c.First() {
		if err := c.Delete(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
