package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LocalStore implements ObjectStore on the local filesystem.
//
// Objects live under data/, with a JSON metadata sidecar under meta/
// carrying the content hash and content type. In-progress multipart
// uploads live under mpu/<uploadID>/ as numbered part files.
type LocalStore struct {
	basePath string
	mutex    sync.RWMutex
}

type localMeta struct {
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"content_type,omitempty"`
}

// NewLocalStore creates a local object store rooted at basePath.
func NewLocalStore(basePath string) (*LocalStore, error) {
	for _, dir := range []string{"data", "meta", "mpu", "tmp"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			log.Error().Err(err).Str("path", basePath).Msg("failed to create storage directory")
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	log.Info().Str("path", basePath).Msg("local object store initialized")
	return &LocalStore{basePath: basePath}, nil
}

// validKey reports whether key maps to a path inside the store root.
// Empty and dot segments are rejected so a key can never climb out of the
// base directory.
func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

func (ls *LocalStore) dataPath(key string) string {
	return filepath.Join(ls.basePath, "data", filepath.FromSlash(key))
}

func (ls *LocalStore) metaPath(key string) string {
	return filepath.Join(ls.basePath, "meta", filepath.FromSlash(key)+".json")
}

// Get returns the object stored at key.
func (ls *LocalStore) Get(ctx context.Context, key string) (*Object, error) {
	if !validKey(key) {
		return nil, ErrInvalidKey
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(ls.dataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		log.Error().Err(err).Str("key", key).Msg("failed to open object")
		return nil, fmt.Errorf("failed to open object: %w", err)
	}

	info, err := ls.readInfo(key)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Object{ObjectInfo: *info, Body: file}, nil
}

// Head returns object metadata without opening the content.
func (ls *LocalStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if !validKey(key) {
		return nil, ErrInvalidKey
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(ls.dataPath(key)); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return ls.readInfo(key)
}

func (ls *LocalStore) readInfo(key string) (*ObjectInfo, error) {
	info := &ObjectInfo{Key: key}

	raw, err := os.ReadFile(ls.metaPath(key))
	if err == nil {
		var meta localMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("corrupt object metadata for %s: %w", key, err)
		}
		info.Size = meta.Size
		info.SHA256 = meta.SHA256
		info.ContentType = meta.ContentType
		return info, nil
	}

	// Sidecar missing; fall back to the data file size.
	st, serr := os.Stat(ls.dataPath(key))
	if serr != nil {
		return nil, fmt.Errorf("failed to stat object: %w", serr)
	}
	info.Size = st.Size()
	return info, nil
}

// Put stores content at key with an atomic temp-file write. When
// opts.SHA256 is set the content hash is checked before the object
// becomes visible, and a mismatch fails the write.
func (ls *LocalStore) Put(ctx context.Context, key string, content io.Reader, opts PutOptions) (*ObjectInfo, error) {
	startTime := time.Now()

	if !validKey(key) {
		return nil, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	tempPath := filepath.Join(ls.basePath, "tmp", uuid.New().String())
	tempFile, err := os.Create(tempPath)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to create temporary file")
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		tempFile.Close()
		os.Remove(tempPath)
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), content)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to write object content")
		return nil, fmt.Errorf("failed to write content: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync temporary file: %w", err)
	}
	tempFile.Close()

	checksum := hex.EncodeToString(hasher.Sum(nil))
	if opts.SHA256 != "" && opts.SHA256 != checksum {
		log.Warn().
			Str("key", key).
			Str("expected", opts.SHA256).
			Str("actual", checksum).
			Msg("content hash mismatch, write rejected")
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, opts.SHA256, checksum)
	}

	fullPath := ls.dataPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to move object into place")
		return nil, fmt.Errorf("failed to move object into place: %w", err)
	}

	if err := ls.writeMeta(key, localMeta{Size: written, SHA256: checksum, ContentType: opts.ContentType}); err != nil {
		return nil, err
	}

	log.Debug().
		Str("key", key).
		Int64("bytes_written", written).
		Str("checksum", checksum).
		Dur("duration", time.Since(startTime)).
		Msg("object stored")

	return &ObjectInfo{Key: key, Size: written, SHA256: checksum, ContentType: opts.ContentType}, nil
}

func (ls *LocalStore) writeMeta(key string, meta localMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal object metadata: %w", err)
	}
	metaPath := ls.metaPath(key)
	if err := os.MkdirAll(filepath.Dir(metaPath), 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	if err := os.WriteFile(metaPath, raw, 0644); err != nil {
		return fmt.Errorf("failed to write object metadata: %w", err)
	}
	return nil
}

// Delete removes the object at key. Absent keys are not an error.
func (ls *LocalStore) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(ls.dataPath(key)); err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Str("key", key).Msg("failed to delete object")
		return fmt.Errorf("failed to delete object: %w", err)
	}
	if err := os.Remove(ls.metaPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object metadata: %w", err)
	}

	log.Debug().Str("key", key).Msg("object deleted")
	return nil
}

// List returns keys under opts.Prefix in lexical order.
func (ls *LocalStore) List(ctx context.Context, opts ListOptions) ([]ObjectInfo, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dataRoot := filepath.Join(ls.basePath, "data")
	var keys []string
	err := filepath.Walk(dataRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dataRoot, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, opts.Prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("prefix", opts.Prefix).Msg("failed to list objects")
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	sort.Strings(keys)

	var infos []ObjectInfo
	for _, key := range keys {
		if opts.StartAfter != "" && key <= opts.StartAfter {
			continue
		}
		info, err := ls.readInfo(key)
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
		if opts.Limit > 0 && len(infos) >= opts.Limit {
			break
		}
	}
	return infos, nil
}

// CreateMultipartUpload opens a new multipart upload targeting key.
func (ls *LocalStore) CreateMultipartUpload(ctx context.Context, key string) (MultipartUpload, error) {
	if !validKey(key) {
		return nil, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	dir := filepath.Join(ls.basePath, "mpu", id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create multipart directory: %w", err)
	}

	manifest, err := json.Marshal(map[string]string{"key": key})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal multipart manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "upload.json"), manifest, 0644); err != nil {
		return nil, fmt.Errorf("failed to write multipart manifest: %w", err)
	}

	log.Debug().Str("key", key).Str("upload_id", id).Msg("multipart upload created")
	return &localMultipart{store: ls, key: key, id: id, dir: dir}, nil
}

// ResumeMultipartUpload reattaches to an upload created earlier.
func (ls *LocalStore) ResumeMultipartUpload(ctx context.Context, key, uploadID string) (MultipartUpload, error) {
	// The upload id names a single directory under mpu/.
	if !validKey(key) || !validKey(uploadID) || strings.Contains(uploadID, "/") {
		return nil, ErrNotExist
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(ls.basePath, "mpu", uploadID)
	raw, err := os.ReadFile(filepath.Join(dir, "upload.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("failed to read multipart manifest: %w", err)
	}
	var manifest struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("corrupt multipart manifest: %w", err)
	}
	if manifest.Key != key {
		return nil, ErrNotExist
	}
	return &localMultipart{store: ls, key: key, id: uploadID, dir: dir}, nil
}

type localMultipart struct {
	store *LocalStore
	key   string
	id    string
	dir   string
}

func (mu *localMultipart) ID() string { return mu.id }

// UploadPart writes one numbered part. The part file is created
// exclusively, so a second writer claiming the same number fails.
func (mu *localMultipart) UploadPart(ctx context.Context, number int, content io.Reader) (Part, error) {
	if err := ctx.Err(); err != nil {
		return Part{}, err
	}
	if number < 1 || number > MaxMultipartParts {
		return Part{}, fmt.Errorf("part number %d out of range", number)
	}

	partPath := filepath.Join(mu.dir, fmt.Sprintf("%05d.part", number))
	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return Part{}, fmt.Errorf("part %d already uploaded", number)
		}
		if os.IsNotExist(err) {
			return Part{}, ErrNotExist
		}
		return Part{}, fmt.Errorf("failed to create part file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(file, hasher), content)
	if err != nil {
		os.Remove(partPath)
		return Part{}, fmt.Errorf("failed to write part: %w", err)
	}
	if err := file.Sync(); err != nil {
		os.Remove(partPath)
		return Part{}, fmt.Errorf("failed to sync part: %w", err)
	}

	etag := hex.EncodeToString(hasher.Sum(nil))
	log.Debug().
		Str("upload_id", mu.id).
		Int("part", number).
		Int64("size", written).
		Msg("multipart part stored")

	return Part{Number: number, ETag: etag}, nil
}

// Complete assembles the listed parts into the object at the upload key
// and discards the part files.
func (mu *localMultipart) Complete(ctx context.Context, parts []Part) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	readers := make([]io.Reader, 0, len(parts))
	files := make([]*os.File, 0, len(parts))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	for _, part := range parts {
		partPath := filepath.Join(mu.dir, fmt.Sprintf("%05d.part", part.Number))
		file, err := os.Open(partPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("part %d missing: %w", part.Number, ErrNotExist)
			}
			return fmt.Errorf("failed to open part %d: %w", part.Number, err)
		}
		files = append(files, file)

		// The etag must echo what UploadPart issued for this slot.
		hasher := sha256.New()
		if _, err := io.Copy(hasher, file); err != nil {
			return fmt.Errorf("failed to read part %d: %w", part.Number, err)
		}
		if hex.EncodeToString(hasher.Sum(nil)) != part.ETag {
			return fmt.Errorf("part %d etag mismatch", part.Number)
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind part %d: %w", part.Number, err)
		}
		readers = append(readers, file)
	}

	if _, err := mu.store.Put(ctx, mu.key, io.MultiReader(readers...), PutOptions{}); err != nil {
		return fmt.Errorf("failed to assemble multipart object: %w", err)
	}

	for _, f := range files {
		f.Close()
	}
	files = nil
	if err := os.RemoveAll(mu.dir); err != nil {
		log.Warn().Err(err).Str("upload_id", mu.id).Msg("failed to remove multipart scratch directory")
	}

	log.Debug().Str("key", mu.key).Str("upload_id", mu.id).Int("parts", len(parts)).Msg("multipart upload completed")
	return nil
}

// Abort discards the upload and its parts.
func (mu *localMultipart) Abort(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(mu.dir); err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	return nil
}
