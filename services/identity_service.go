package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/sourcedrop/sourcedrop-server/util"
)

// IdentityService turns a codename into a resolved source identity. It keeps
// no state between calls: the session travels with each request.
type IdentityService struct {
	codec        *util.Codec
	sources      *SourceService
	store        *StoreService
	defaultWords int
	lifetime     time.Duration
	now          func() time.Time
}

func NewIdentityService(codec *util.Codec, sources *SourceService, store *StoreService, defaultWords int, lifetime time.Duration) *IdentityService {
	if codec == nil || sources == nil || store == nil {
		panic("codec, sources and store are required")
	}
	return &IdentityService{
		codec:        codec,
		sources:      sources,
		store:        store,
		defaultWords: defaultWords,
		lifetime:     lifetime,
		now:          time.Now,
	}
}

// StartNew returns an anonymous session holding a fresh codename. Nothing is
// persisted until Establish.
func (is *IdentityService) StartNew(wordCount int) (*types.SourceSession, error) {
	if wordCount == 0 {
		wordCount = is.defaultWords
	}
	phrase, err := is.codec.GeneratePhrase(wordCount)
	if err != nil {
		return nil, err
	}
	return &types.SourceSession{Codename: phrase, State: types.SessionAnonymous}, nil
}

// Establish creates the record and namespace of the session codename (both
// idempotent) and authenticates the session.
func (is *IdentityService) Establish(ctx context.Context, sess *types.SourceSession) (*types.SourceContext, error) {
	if sess == nil || util.NormalizeCodename(sess.Codename) == "" {
		return nil, fmt.Errorf("session without codename: %w", types.ErrInvalidParameter)
	}
	sid, err := is.codec.HashCodename(sess.Codename)
	if err != nil {
		return nil, err
	}
	displayID := is.codec.DisplayID(sess.Codename)

	record, err := is.sources.Create(ctx, sid, displayID)
	if err != nil {
		return nil, err
	}
	if err := is.store.CreateNamespace(sid); err != nil {
		return nil, err
	}
	location, _ := is.store.Path(sid)

	is.authenticate(sess)
	return &types.SourceContext{
		Session:   sess,
		StorageID: sid,
		DisplayID: displayID,
		Source:    record,
		Location:  location,
	}, nil
}

// Authenticate logs in with an existing codename. A wrong and an unused
// codename are indistinguishable.
func (is *IdentityService) Authenticate(ctx context.Context, codename string) (*types.SourceSession, error) {
	sid, err := is.codec.HashCodename(codename)
	if err != nil {
		return nil, types.ErrUnknownIdentity
	}
	if !is.store.NamespaceExists(sid) {
		return nil, types.ErrUnknownIdentity
	}
	sess := &types.SourceSession{Codename: util.NormalizeCodename(codename)}
	is.authenticate(sess)
	return sess, nil
}

// Resolve rebuilds the source context of an authenticated session. Expired
// sessions are reset to anonymous.
func (is *IdentityService) Resolve(ctx context.Context, sess *types.SourceSession) (*types.SourceContext, error) {
	if sess == nil {
		return nil, types.ErrUnknownIdentity
	}
	if !sess.IsAuthenticated(is.now()) {
		sess.Reset()
		return nil, types.ErrUnknownIdentity
	}
	sid, err := is.codec.HashCodename(sess.Codename)
	if err != nil {
		sess.Reset()
		return nil, types.ErrUnknownIdentity
	}
	record, err := is.sources.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("source record missing: %w", types.ErrStorageUnavailable)
		}
		return nil, err
	}
	location, _ := is.store.Path(sid)
	return &types.SourceContext{
		Session:   sess,
		StorageID: sid,
		DisplayID: is.codec.DisplayID(sess.Codename),
		Source:    record,
		Location:  location,
	}, nil
}

// Logout forgets the codename
func (is *IdentityService) Logout(sess *types.SourceSession) {
	if sess != nil {
		sess.Reset()
	}
}

func (is *IdentityService) authenticate(sess *types.SourceSession) {
	sess.State = types.SessionAuthenticated
	if is.lifetime > 0 {
		sess.ExpiresAt = is.now().Add(is.lifetime).Unix()
	} else {
		sess.ExpiresAt = 0
	}
}
