package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/aptospilot/aptospilot/internal/crypto"
	"github.com/aptospilot/aptospilot/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ Store = (*FirestoreStorage)(nil)

// FirestoreStorage keeps profile values in Google Cloud Firestore, one
// document per (profile, key). Values are always encrypted at rest since
// they include ephemeral private keys.
type FirestoreStorage struct {
	client     *firestore.Client
	collection string
	encryptor  crypto.Encryptor
}

// ProfileValueDoc is the Firestore document layout.
type ProfileValueDoc struct {
	Profile   string    `firestore:"profile"`
	Key       string    `firestore:"key"`
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStorage creates a new Firestore storage instance
func NewFirestoreStorage(ctx context.Context, projectID, database, collection string, encryptor crypto.Encryptor) (*FirestoreStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Firestore storage ready", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStorage{
		client:     client,
		collection: collection,
		encryptor:  encryptor,
	}, nil
}

// docID joins profile and key. Keys such as "@aptos/account" contain '/',
// which Firestore forbids in document IDs, so the key is path-escaped.
func docID(profile, key string) string {
	return profile + "__" + url.PathEscape(key)
}

func (s *FirestoreStorage) doc(profile, key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(docID(profile, key))
}

func (s *FirestoreStorage) Get(ctx context.Context, profile, key string) (string, error) {
	snap, err := s.doc(profile, key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading %s from Firestore: %w", key, err)
	}

	var doc ProfileValueDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	return open(s.encryptor, doc.Value)
}

func (s *FirestoreStorage) Set(ctx context.Context, profile, key, value string) error {
	sealed, err := seal(s.encryptor, value)
	if err != nil {
		return err
	}
	doc := ProfileValueDoc{
		Profile:   profile,
		Key:       key,
		Value:     sealed,
		UpdatedAt: time.Now().UTC(),
	}
	if _, err := s.doc(profile, key).Set(ctx, doc); err != nil {
		return fmt.Errorf("writing %s to Firestore: %w", key, err)
	}
	return nil
}

func (s *FirestoreStorage) Delete(ctx context.Context, profile, key string) error {
	_, err := s.doc(profile, key).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("deleting %s from Firestore: %w", key, err)
	}
	return nil
}

func (s *FirestoreStorage) ProfilesWithKey(ctx context.Context, key string) ([]string, error) {
	iter := s.client.Collection(s.collection).Where("key", "==", key).Documents(ctx)
	defer iter.Stop()

	var profiles []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating Firestore documents: %w", err)
		}
		var doc ProfileValueDoc
		if err := snap.DataTo(&doc); err != nil {
			log.LogWarnWithFields("storage", "Skipping undecodable document", map[string]any{
				"doc":   snap.Ref.ID,
				"error": err.Error(),
			})
			continue
		}
		profiles = append(profiles, doc.Profile)
	}
	return profiles, nil
}

func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}
