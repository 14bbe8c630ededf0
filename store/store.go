// Package store handles per-user persistence of the timeline buffer,
// cursor, sessions and archive tokens.
//
// Every logical key is a single JSON object in a Cloud Storage bucket, or
// a file in a local directory during development. Keys are read and
// written independently; there are no multi-key transactions. The store
// is a soft caching layer, not a system of record.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"github.com/mattkenney/soc/pkg/soc"
)

const sessionPrefix = "session-"

var errNotExist = errors.New("storage: object doesn't exist")

// Store persists per-user state.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a new store. When localPath is non-empty the bucket client
// is ignored and objects live in that directory.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// IsNotFound checks if an error indicates a missing object.
func IsNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "storage: object doesn't exist")
}

// userKey builds an object key for a per-user value. User ids are the
// numeric account ids handed out by the identity provider; anything else
// is rejected to prevent path traversal.
func userKey(kind, uid string) string {
	if uid == "" || len(uid) > 24 {
		return ""
	}
	valid := 1
	for _, c := range uid {
		if c < '0' || c > '9' {
			valid = 0
		}
	}
	if valid == 0 {
		return ""
	}
	return fmt.Sprintf("%s-%s.json", kind, uid)
}

// sessionKey builds an object key for a session id (a UUID).
func sessionKey(sid string) string {
	if len(sid) != 36 {
		return ""
	}
	valid := 1
	for i, c := range sid {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				valid = 0
			}
		default:
			isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
			if !isHex {
				valid = 0
			}
		}
	}
	if valid == 0 {
		return ""
	}
	return sessionPrefix + sid + ".json"
}

// Timeline loads a user's cached timeline buffer, newest first. A missing
// buffer is an empty buffer, not an error.
func (s *Store) Timeline(ctx context.Context, uid string) ([]*soc.Status, error) {
	key := userKey("timeline", uid)
	if key == "" {
		return nil, errors.New("invalid user id")
	}

	data, err := s.load(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var items []*soc.Status
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal timeline: %w", err)
	}
	return items, nil
}

// SaveTimeline replaces a user's cached timeline buffer wholesale.
func (s *Store) SaveTimeline(ctx context.Context, uid string, items []*soc.Status) error {
	key := userKey("timeline", uid)
	if key == "" {
		return errors.New("invalid user id")
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}

	if err := s.save(ctx, key, data); err != nil {
		return err
	}
	s.logger.Debug("Timeline saved", "uid", uid, "count", len(items))
	return nil
}

// CursorIndex loads a user's cursor position. A missing cursor reads as
// zero, the most-recent item.
func (s *Store) CursorIndex(ctx context.Context, uid string) (int, error) {
	key := userKey("cursor-index", uid)
	if key == "" {
		return 0, errors.New("invalid user id")
	}

	data, err := s.load(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}

	index, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse cursor index: %w", err)
	}
	return index, nil
}

// SetCursorIndex persists a user's cursor position.
func (s *Store) SetCursorIndex(ctx context.Context, uid string, index int) error {
	key := userKey("cursor-index", uid)
	if key == "" {
		return errors.New("invalid user id")
	}
	return s.save(ctx, key, []byte(strconv.Itoa(index)))
}

// CursorID loads the id last selected by a user's cursor. Missing reads
// as empty.
func (s *Store) CursorID(ctx context.Context, uid string) (string, error) {
	key := userKey("cursor-id", uid)
	if key == "" {
		return "", errors.New("invalid user id")
	}

	data, err := s.load(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// SetCursorID persists the id of the item the cursor now points at. This
// is the anchor for the optimistic replay check on the next navigation;
// kept as a dedicated method so a compare-and-swap can slot in later.
func (s *Store) SetCursorID(ctx context.Context, uid string, id string) error {
	key := userKey("cursor-id", uid)
	if key == "" {
		return errors.New("invalid user id")
	}
	return s.save(ctx, key, []byte(id))
}

// PocketToken loads a user's read-later access token.
func (s *Store) PocketToken(ctx context.Context, uid string) (string, error) {
	key := userKey("pocket", uid)
	if key == "" {
		return "", errors.New("invalid user id")
	}

	data, err := s.load(ctx, key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// SetPocketToken persists a user's read-later access token.
func (s *Store) SetPocketToken(ctx context.Context, uid string, token string) error {
	key := userKey("pocket", uid)
	if key == "" {
		return errors.New("invalid user id")
	}
	return s.save(ctx, key, []byte(token))
}

// DeletePocketToken disconnects a user from the read-later service.
func (s *Store) DeletePocketToken(ctx context.Context, uid string) error {
	key := userKey("pocket", uid)
	if key == "" {
		return errors.New("invalid user id")
	}
	return s.delete(ctx, key)
}

// Session loads a session by id.
func (s *Store) Session(ctx context.Context, sid string) (*soc.Session, error) {
	key := sessionKey(sid)
	if key == "" {
		return nil, errNotExist
	}

	data, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}

	var sess soc.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// SaveSession persists a session.
func (s *Store) SaveSession(ctx context.Context, sess *soc.Session) error {
	key := sessionKey(sess.ID)
	if key == "" {
		return errors.New("invalid session id")
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.save(ctx, key, data)
}

// DeleteSession removes a session. Deleting a missing session is not an
// error.
func (s *Store) DeleteSession(ctx context.Context, sid string) error {
	key := sessionKey(sid)
	if key == "" {
		return nil
	}
	err := s.delete(ctx, key)
	if err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// SweepSessions deletes sessions whose last activity predates cutoff.
// Returns the number of sessions removed.
func (s *Store) SweepSessions(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := s.list(ctx, sessionPrefix)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	removed := 0
	for _, key := range keys {
		data, err := s.load(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to load session during sweep", "key", key, "error", err)
			continue
		}
		var sess soc.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			s.logger.Warn("Failed to decode session during sweep", "key", key, "error", err)
			continue
		}
		if sess.LastSeen.After(cutoff) {
			continue
		}
		if err := s.delete(ctx, key); err != nil && !IsNotFound(err) {
			s.logger.Warn("Failed to delete expired session", "key", key, "error", err)
			continue
		}
		removed++
	}

	s.logger.Info("Session sweep completed", "scanned", len(keys), "removed", removed)
	return removed, nil
}

func (s *Store) load(ctx context.Context, key string) ([]byte, error) {
	// Local filesystem storage
	if s.localPath != "" {
		data, err := os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errNotExist
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	// Cloud Storage with retry logic for reliability
	var readData []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			readData, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errNotExist
		}
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return readData, nil
}

func (s *Store) save(ctx context.Context, key string, data []byte) error {
	// Local filesystem storage
	if s.localPath != "" {
		if err := os.WriteFile(filepath.Join(s.localPath, key), data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	// Local filesystem storage
	if s.localPath != "" {
		if err := os.Remove(filepath.Join(s.localPath, key)); err != nil {
			if os.IsNotExist(err) {
				return errNotExist
			}
			return fmt.Errorf("delete from local storage: %w", err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				// Don't retry on "not found" errors - deletion is idempotent
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(fmt.Errorf("delete from storage: %w", deleteErr))
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying delete operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return errNotExist
		}
		return fmt.Errorf("delete after retries: %w", err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, prefix string) ([]string, error) {
	// Local filesystem storage
	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}

		var keys []string
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			keys = append(keys, entry.Name())
		}
		return keys, nil
	}

	// Cloud Storage
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix: prefix,
	})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
