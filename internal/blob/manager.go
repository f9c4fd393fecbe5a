// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package blob manages the binary data held in artifact blob fields: upload
// reservations, streaming to storage backends, checksums, downloads and
// deletion.
package blob

import (
	"context"
	goerrors "errors"
	"io"
	"time"

	"github.com/open-edge-platform/app-orch-artifacts/internal/fields"
	"github.com/open-edge-platform/app-orch-artifacts/internal/locking"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
	"github.com/open-edge-platform/orch-library/go/dazl"
	"github.com/opencontainers/go-digest"
)

var log = dazl.GetPackageLogger()

// FinalizeTimeout bounds the bookkeeping done after the bytes of an upload
// have been streamed, including when the caller has gone away.
var FinalizeTimeout = 30 * time.Second

// Records is the part of the metadata store used by the manager.
type Records interface {
	SaveBlob(ctx context.Context, b *store.Blob) error
	CompleteBlob(ctx context.Context, b *store.Blob) error
	SetBlobStatus(ctx context.Context, id string, from store.BlobStatus, to store.BlobStatus) error
	DeleteBlob(ctx context.Context, id string) error
	CountBlobsAt(ctx context.Context, location string) (int64, error)
}

// Manager drives blob transfers between callers and storage backends.
type Manager struct {
	records  Records
	upload   Backend
	backends map[string]Backend
	locker   locking.Locker
}

// NewManager returns a manager storing new uploads in the first backend.
// The other backends are used to read and delete existing locations.
func NewManager(records Records, upload Backend, others ...Backend) *Manager {
	m := &Manager{records: records, upload: upload, backends: map[string]Backend{}, locker: locking.NewLocalLocker()}
	for _, b := range append([]Backend{upload}, others...) {
		m.backends[b.Scheme()] = b
	}
	return m
}

// SetLocker replaces the process-local locker guarding storage locations,
// for deployments where several replicas share a backend.
func (m *Manager) SetLocker(l locking.Locker) {
	m.locker = l
}

// lockLocation keeps deletes of the location out while the caller decides
// whether its bytes are still referenced.
func (m *Manager) lockLocation(ctx context.Context, location string) (func(), error) {
	lock, err := m.locker.Acquire(ctx, "blob-location:"+location, FinalizeTimeout)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

// LockFunc acquires the lock guarding the artifact of an upload and returns
// its release function.
type LockFunc func(ctx context.Context) (func(), error)

// Upload is a reserved blob slot waiting for its bytes.
type Upload struct {
	Blob *store.Blob
	// Limit is the number of bytes the upload may store, negative if unbounded.
	Limit int64
	// ExpectedSize is the announced length of the stream, negative if unknown.
	ExpectedSize int64
	// Relock is called before the outcome of the upload is recorded.
	Relock LockFunc

	limitReason string
	previous    *store.Blob
}

// UploadRequest describes the slot to reserve.
type UploadRequest struct {
	Artifact    *store.Artifact
	Field       *fields.Descriptor
	Key         string
	ContentType string
	// QuotaLeft is the number of bytes the owner may still upload, negative
	// if unlimited.
	QuotaLeft    int64
	ExpectedSize int64
}

// BeginUpload reserves the blob slot by recording it as saving. The caller
// must hold the artifact lock.
func (m *Manager) BeginUpload(ctx context.Context, req *UploadRequest) (*Upload, error) {
	existing, err := checkSlot(req.Artifact, req.Field, req.Key)
	if err != nil {
		return nil, err
	}
	limit, reason, err := uploadLimit(req)
	if err != nil {
		return nil, err
	}
	if req.ExpectedSize >= 0 && limit >= 0 && req.ExpectedSize > limit {
		return nil, tooLarge(req.Field.Name, &ErrTooLarge{Limit: limit, Reason: reason})
	}
	if req.ExpectedSize >= 0 && (limit < 0 || req.ExpectedSize < limit) {
		limit = req.ExpectedSize
	}
	up := &Upload{
		Blob: &store.Blob{
			ArtifactID:  req.Artifact.ID,
			Field:       req.Field.Name,
			Key:         req.Key,
			Status:      store.BlobSaving,
			Size:        max(limit, 0),
			ContentType: req.ContentType,
		},
		Limit:        limit,
		ExpectedSize: req.ExpectedSize,
		limitReason:  reason,
	}
	if existing != nil && existing.Status == store.BlobActive {
		up.previous = existing
	}
	if err := m.records.SaveBlob(ctx, up.Blob); err != nil {
		return nil, err
	}
	log.Debugf("Reserved blob %s of artifact %s (limit %d)", blobName(up.Blob), up.Blob.ArtifactID, limit)
	return up, nil
}

// checkSlot verifies that the slot can take a new upload and returns the blob
// it currently holds.
func checkSlot(a *store.Artifact, d *fields.Descriptor, key string) (*store.Blob, error) {
	switch d.Kind {
	case fields.Blob:
		if key != "" {
			return nil, errors.NewInvalidArgument(errors.WithResourceType(errors.FieldType),
				errors.WithResourceName(d.Name), errors.WithMessage("blob field does not take a key"))
		}
	case fields.BlobDict:
		if err := d.ValidateBlobKey(key, dictKeys(a, d.Name)); err != nil {
			return nil, errors.NewInvalidArgument(errors.WithResourceType(errors.FieldType),
				errors.WithResourceName(d.Name), errors.WithError(err))
		}
	default:
		return nil, errors.NewInvalidArgument(errors.WithResourceType(errors.FieldType),
			errors.WithResourceName(d.Name), errors.WithMessage("field is not a blob field"))
	}
	existing := a.Blob(d.Name, key)
	if existing == nil || existing.Status == store.BlobError {
		return existing, nil
	}
	if existing.Status == store.BlobActive && d.Kind == fields.BlobDict && d.AllowOverwrite {
		return existing, nil
	}
	return nil, errors.NewFailedPrecondition(errors.WithResourceType(errors.BlobType),
		errors.WithResourceName(blobName(existing)),
		errors.WithMessage("slot already holds a %s blob", existing.Status))
}

func dictKeys(a *store.Artifact, field string) []string {
	var keys []string
	for _, b := range a.BlobsOf(field) {
		keys = append(keys, b.Key)
	}
	return keys
}

// uploadLimit returns the smallest of the field size bound, the space left in
// a blob dict and the owner's quota.
func uploadLimit(req *UploadRequest) (int64, string, error) {
	d := req.Field
	limit, reason := d.MaxBlobSize, "the maximum blob size"
	if d.Kind == fields.BlobDict {
		var used int64
		for _, b := range req.Artifact.BlobsOf(d.Name) {
			if b.Key != req.Key && (b.Status == store.BlobActive || b.Status == store.BlobSaving) {
				used += b.Size
			}
		}
		if left := d.MaxFolderSize - used; left < limit {
			limit, reason = left, "the maximum folder size"
		}
		if limit <= 0 {
			return 0, "", errors.NewInvalidArgument(errors.WithResourceType(errors.FieldType),
				errors.WithResourceName(d.Name), errors.WithMessage("folder is full"))
		}
	}
	if req.QuotaLeft >= 0 {
		if req.QuotaLeft == 0 {
			return 0, "", errors.NewQuotaExceeded(errors.WithMessage("uploaded data quota is used up"))
		}
		if req.QuotaLeft < limit {
			limit, reason = req.QuotaLeft, "the uploaded data quota"
		}
	}
	return limit, reason, nil
}

// StreamUpload streams r to the upload backend and records the result. On
// success the blob becomes active. On any failure, including cancellation of
// ctx, bytes already stored are removed and the blob is marked error, or the
// previously active blob of an overwritten key is restored.
func (m *Manager) StreamUpload(ctx context.Context, up *Upload, r io.Reader) (*store.Blob, error) {
	hr := newHashingReader(&sizedReader{
		r:        &limitedReader{r: r, limit: up.Limit, reason: up.limitReason},
		expected: up.ExpectedSize,
	})
	location, size, checksum, putErr := m.upload.Put(ctx, up.Blob.ID, hr)
	sums := hr.Checksums()
	if putErr == nil && checksum != "" && checksum != sums.Digest.String() {
		putErr = &BackendError{Backend: m.upload.Scheme(), Op: "put", Location: location,
			Err: goerrors.New("stored checksum does not match the uploaded data")}
	}
	if putErr == nil && size != sums.Size {
		putErr = &BackendError{Backend: m.upload.Scheme(), Op: "put", Location: location,
			Err: goerrors.New("stored size does not match the uploaded data")}
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FinalizeTimeout)
	defer cancel()
	if up.Relock != nil {
		unlock, err := up.Relock(fctx)
		if err != nil {
			log.Warnf("Failed to record upload of blob %s: %v", up.Blob.ID, err)
			m.release(fctx, location)
			m.fail(fctx, up)
			return nil, err
		}
		defer unlock()
	}

	if putErr != nil {
		m.release(fctx, location)
		m.fail(fctx, up)
		return nil, uploadError(up.Blob.Field, putErr)
	}

	b := *up.Blob
	b.Status = store.BlobActive
	b.Size = sums.Size
	b.Checksum = sums.Digest.String()
	b.MD5, b.SHA1, b.SHA256, b.BLAKE3 = sums.MD5, sums.SHA1, sums.SHA256, sums.BLAKE3
	b.Location = location
	if err := m.complete(fctx, &b); err != nil {
		log.Warnf("Failed to record upload of blob %s: %v", blobName(&b), err)
		m.release(fctx, location)
		m.fail(fctx, up)
		return nil, err
	}
	if up.previous != nil && !up.previous.External {
		m.release(fctx, up.previous.Location)
	}
	log.Infof("Stored blob %s of artifact %s (%d bytes, %s)", blobName(&b), b.ArtifactID, b.Size, b.Checksum)
	return &b, nil
}

// complete records the blob as active. Shared content is checked under the
// location lock so a concurrent delete of the same bytes cannot slip between
// the check and the record.
func (m *Manager) complete(ctx context.Context, b *store.Blob) error {
	unlock, err := m.lockLocation(ctx, b.Location)
	if err != nil {
		return err
	}
	defer unlock()
	if shared, ok := m.upload.(SharedContent); ok {
		found, err := shared.Exists(ctx, b.Location)
		if err == nil && !found {
			err = &BackendError{Backend: m.upload.Scheme(), Op: "put", Location: b.Location,
				Err: goerrors.New("stored data was removed before the upload completed")}
		}
		if err != nil {
			return errors.NewStorageBackendError(errors.WithResourceType(errors.BlobType),
				errors.WithResourceName(blobName(b)), errors.WithError(err))
		}
	}
	return m.records.CompleteBlob(ctx, b)
}

func (m *Manager) fail(ctx context.Context, up *Upload) {
	if up.previous != nil {
		if err := m.records.SaveBlob(ctx, up.previous); err != nil {
			log.Warnf("Failed to restore blob %s: %v", blobName(up.previous), err)
		}
		return
	}
	if err := m.records.SetBlobStatus(ctx, up.Blob.ID, store.BlobSaving, store.BlobError); err != nil {
		log.Warnf("Failed to mark blob %s as failed: %v", up.Blob.ID, err)
	}
}

// release removes the bytes at a location no blob record points at anymore.
// Bytes still referenced, for instance by another blob with the same content,
// are kept.
func (m *Manager) release(ctx context.Context, location string) {
	if location == "" {
		return
	}
	unlock, err := m.lockLocation(ctx, location)
	if err != nil {
		log.Warnf("Left blob data at %s: %v", location, err)
		return
	}
	defer unlock()
	if n, err := m.records.CountBlobsAt(ctx, location); err != nil || n > 0 {
		return
	}
	b, err := m.backendFor(location)
	if err == nil {
		err = b.Delete(ctx, location)
	}
	if err != nil {
		log.Warnf("Failed to delete blob data at %s: %v", location, err)
	}
}

func uploadError(field string, err error) error {
	var tl *ErrTooLarge
	switch {
	case goerrors.As(err, &tl):
		return tooLarge(field, tl)
	case goerrors.Is(err, io.ErrUnexpectedEOF):
		return errors.NewInvalidArgument(errors.WithResourceType(errors.BlobType), errors.WithResourceName(field),
			errors.WithMessage("upload stream ended before the announced size"))
	case goerrors.Is(err, context.Canceled), goerrors.Is(err, context.DeadlineExceeded):
		return errors.NewUnavailable(errors.WithResourceType(errors.BlobType), errors.WithResourceName(field),
			errors.WithMessage("upload cancelled"), errors.WithError(err))
	}
	return errors.NewStorageBackendError(errors.WithResourceType(errors.BlobType), errors.WithResourceName(field),
		errors.WithError(err))
}

func tooLarge(field string, tl *ErrTooLarge) error {
	if tl.Reason == "the uploaded data quota" {
		return errors.NewQuotaExceeded(errors.WithMessage("%s", tl.Error()))
	}
	return errors.NewInvalidArgument(errors.WithResourceType(errors.BlobType), errors.WithResourceName(field),
		errors.WithMessage("%s", tl.Error()))
}

// Download is the content of an active blob. External blobs have no Reader;
// their data is served from Location.
type Download struct {
	Blob     *store.Blob
	Reader   io.ReadCloser
	Location string
}

// Download opens the data of an active blob. The reader fails at the end of
// the stream if the data does not match the recorded checksum.
func (m *Manager) Download(ctx context.Context, b *store.Blob) (*Download, error) {
	if b == nil || b.Status != store.BlobActive {
		return nil, errors.NewNotFound(errors.WithResourceType(errors.BlobType),
			errors.WithMessage("no active blob"))
	}
	if b.External {
		return &Download{Blob: b, Location: b.Location}, nil
	}
	backend, err := m.backendFor(b.Location)
	if err != nil {
		return nil, err
	}
	rc, err := backend.Get(ctx, b.Location)
	if err != nil {
		return nil, errors.NewStorageBackendError(errors.WithResourceType(errors.BlobType),
			errors.WithResourceName(blobName(b)), errors.WithError(err))
	}
	return &Download{Blob: b, Reader: newVerifyingReader(rc, digest.Digest(b.Checksum), b.Location)}, nil
}

// Delete removes a blob: it is marked pending_delete, its data is deleted from
// the backend and then its record is removed. If the backend fails the blob
// stays pending_delete and the delete may be retried. Blobs being saved cannot
// be deleted.
func (m *Manager) Delete(ctx context.Context, b *store.Blob) error {
	switch b.Status {
	case store.BlobSaving:
		return errors.NewFailedPrecondition(errors.WithResourceType(errors.BlobType),
			errors.WithResourceName(blobName(b)), errors.WithMessage("blob upload in progress"))
	case store.BlobPendingDelete:
	default:
		if err := m.records.SetBlobStatus(ctx, b.ID, b.Status, store.BlobPendingDelete); err != nil {
			return err
		}
		b.Status = store.BlobPendingDelete
	}
	if !b.External && b.Location != "" {
		if err := m.deleteData(ctx, b); err != nil {
			return err
		}
	} else if err := m.records.DeleteBlob(ctx, b.ID); err != nil {
		return err
	}
	log.Infof("Deleted blob %s of artifact %s", blobName(b), b.ArtifactID)
	return nil
}

// deleteData removes the bytes of b unless another record shares them, then
// its record. Both happen under the location lock.
func (m *Manager) deleteData(ctx context.Context, b *store.Blob) error {
	unlock, err := m.lockLocation(ctx, b.Location)
	if err != nil {
		return err
	}
	defer unlock()
	n, err := m.records.CountBlobsAt(ctx, b.Location)
	if err != nil {
		return err
	}
	if n <= 1 {
		backend, err := m.backendFor(b.Location)
		if err != nil {
			return err
		}
		if err := backend.Delete(ctx, b.Location); err != nil {
			log.Warnf("Blob %s of artifact %s left pending delete: %v", blobName(b), b.ArtifactID, err)
			return errors.NewStorageBackendError(errors.WithResourceType(errors.BlobType),
				errors.WithResourceName(blobName(b)), errors.WithError(err))
		}
	}
	return m.records.DeleteBlob(ctx, b.ID)
}

// ExternalLocation describes data kept outside the managed backends.
type ExternalLocation struct {
	URL         string
	Size        int64
	MD5         string
	SHA1        string
	SHA256      string
	ContentType string
}

// AddLocation records an active external blob in the slot. The caller must
// hold the artifact lock.
func (m *Manager) AddLocation(ctx context.Context, a *store.Artifact, d *fields.Descriptor, key string,
	loc *ExternalLocation) (*store.Blob, error) {
	existing, err := checkSlot(a, d, key)
	if err != nil {
		return nil, err
	}
	if loc.URL == "" {
		return nil, errors.NewInvalidArgument(errors.WithResourceType(errors.BlobType),
			errors.WithResourceName(d.Name), errors.WithMessage("location url is required"))
	}
	b := &store.Blob{
		ArtifactID:  a.ID,
		Field:       d.Name,
		Key:         key,
		Status:      store.BlobActive,
		Size:        loc.Size,
		MD5:         loc.MD5,
		SHA1:        loc.SHA1,
		SHA256:      loc.SHA256,
		Location:    loc.URL,
		External:    true,
		ContentType: loc.ContentType,
	}
	if loc.SHA256 != "" {
		b.Checksum = digest.NewDigestFromEncoded(digest.SHA256, loc.SHA256).String()
	}
	if err := m.records.SaveBlob(ctx, b); err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == store.BlobActive && !existing.External {
		m.release(ctx, existing.Location)
	}
	return b, nil
}

func (m *Manager) backendFor(location string) (Backend, error) {
	b, ok := m.backends[SchemeOf(location)]
	if !ok {
		return nil, errors.NewStorageBackendError(errors.WithMessage("no backend for location %q", location))
	}
	return b, nil
}

func blobName(b *store.Blob) string {
	if b.Key == "" {
		return b.Field
	}
	return b.Field + "/" + b.Key
}
