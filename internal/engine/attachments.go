package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"time"

	"caseflow/api/internal/obs"
	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
)

// ListAttachments returns the attachment metadata for a readable request.
func (e *Engine) ListAttachments(ctx context.Context, caller store.Person, requestID string) ([]store.AttachmentRef, error) {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := e.authorizeRead(ctx, &req, caller); err != nil {
		return nil, err
	}
	return req.Attachments, nil
}

// UploadAttachment stores the content and records a reference, deduplicated
// by content digest. Re-uploading identical content under an existing name
// is a no-op; new content under an existing name updates the reference in
// place, keeping its ID stable.
func (e *Engine) UploadAttachment(ctx context.Context, caller store.Person, requestID, name, contentType string, data []byte) (store.AttachmentRef, error) {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return store.AttachmentRef{}, err
	}
	if err := e.authorizeWrite(ctx, &req, caller); err != nil {
		return store.AttachmentRef{}, err
	}
	if name == "" {
		return store.AttachmentRef{}, errValidation("attachment name is required")
	}
	if len(data) == 0 {
		return store.AttachmentRef{}, errValidation("attachment content is empty")
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	working := req.Clone()
	for i := range working.Attachments {
		ref := &working.Attachments[i]
		if ref.Name != name {
			continue
		}
		if ref.Hash == digest {
			return *ref, nil
		}
		// Same name, new content: replace in place, keep the ID.
		if err := e.blobs.Put(ctx, digest, data, contentType); err != nil {
			return store.AttachmentRef{}, errUpstream("blob store write", err)
		}
		oldHash := ref.Hash
		ref.Hash = digest
		ref.Size = int64(len(data))
		ref.Date = time.Now().UTC()
		ref.Type = contentType
		updated, err := e.putAttachments(ctx, working, *ref)
		if err != nil {
			return store.AttachmentRef{}, err
		}
		// The superseded blob goes only after the record stopped
		// referencing it; a failed write above must leave it downloadable.
		if !hashInUse(working.Attachments, oldHash) {
			if err := e.blobs.Delete(ctx, oldHash); err != nil {
				log.Printf("engine: delete superseded blob %s for %s: %v", oldHash, requestID, err)
			}
		}
		return updated, nil
	}

	if err := e.blobs.Put(ctx, digest, data, contentType); err != nil {
		return store.AttachmentRef{}, errUpstream("blob store write", err)
	}
	ref := store.AttachmentRef{
		ID:   util.NewID("att"),
		Hash: digest,
		Name: name,
		Size: int64(len(data)),
		Date: time.Now().UTC(),
		Type: contentType,
	}
	working.Attachments = append(working.Attachments, ref)
	return e.putAttachments(ctx, working, ref)
}

func (e *Engine) putAttachments(ctx context.Context, working store.Request, ref store.AttachmentRef) (store.AttachmentRef, error) {
	working.DateUpdated = time.Now().UTC()
	if err := e.store.PutRequest(ctx, working); err != nil {
		return store.AttachmentRef{}, errUpstream("request store write", err)
	}
	obs.RecordMutation("attachment")
	e.index(working)
	return ref, nil
}

// GetAttachment returns the reference and its content for download.
func (e *Engine) GetAttachment(ctx context.Context, caller store.Person, requestID, attachmentID string) (store.AttachmentRef, []byte, error) {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return store.AttachmentRef{}, nil, err
	}
	if err := e.authorizeRead(ctx, &req, caller); err != nil {
		return store.AttachmentRef{}, nil, err
	}
	for _, ref := range req.Attachments {
		if ref.ID != attachmentID {
			continue
		}
		data, err := e.blobs.Get(ctx, ref.Hash)
		if err != nil {
			return store.AttachmentRef{}, nil, errUpstream("blob store read", err)
		}
		return ref, data, nil
	}
	return store.AttachmentRef{}, nil, errNotFound("attachment " + attachmentID)
}

// DeleteAttachment removes the reference and, when no other reference on
// the request shares the content, the blob itself. Blob deletion is best
// effort.
func (e *Engine) DeleteAttachment(ctx context.Context, caller store.Person, requestID, attachmentID string) (store.Request, error) {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return store.Request{}, err
	}
	if err := e.authorizeWrite(ctx, &req, caller); err != nil {
		return store.Request{}, err
	}

	working := req.Clone()
	index := -1
	for i := range working.Attachments {
		if working.Attachments[i].ID == attachmentID {
			index = i
			break
		}
	}
	if index < 0 {
		return store.Request{}, errNotFound("attachment " + attachmentID)
	}

	removed := working.Attachments[index]
	working.Attachments = append(working.Attachments[:index], working.Attachments[index+1:]...)
	working.DateUpdated = time.Now().UTC()
	if err := e.store.PutRequest(ctx, working); err != nil {
		return store.Request{}, errUpstream("request store write", err)
	}
	if !hashInUse(working.Attachments, removed.Hash) {
		if err := e.blobs.Delete(ctx, removed.Hash); err != nil {
			log.Printf("engine: delete blob %s for %s: %v", removed.Hash, requestID, err)
		}
	}
	obs.RecordMutation("attachment")
	e.index(working)
	return working, nil
}

func hashInUse(refs []store.AttachmentRef, hash string) bool {
	for _, ref := range refs {
		if ref.Hash == hash {
			return true
		}
	}
	return false
}
