// Package mongo provides a MongoDB-backed envelope.KeyStore.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentbridge/control-plane/internal/envelope"
)

// Store is a MongoDB implementation of envelope.KeyStore. EEKs, DEKs, and
// aliases each live in their own collection since they're looked up by
// unrelated keys and have independent lifecycles.
type Store struct {
	eeks    *mongo.Collection
	deks    *mongo.Collection
	aliases *mongo.Collection
}

var _ envelope.KeyStore = (*Store)(nil)

// New creates a Store using the given database.
func New(db *mongo.Database) *Store {
	return &Store{
		eeks:    db.Collection("envelope_eeks"),
		deks:    db.Collection("envelope_deks"),
		aliases: db.Collection("envelope_aliases"),
	}
}

type eekDocument struct {
	ID            string `bson:"_id"`
	Variant       int    `bson:"variant"`
	LocalFileName string `bson:"local_file_name,omitempty"`
	AwsARN        string `bson:"aws_arn,omitempty"`
	AwsRegion     string `bson:"aws_region,omitempty"`
}

type dekDocument struct {
	ID                   string    `bson:"_id"`
	EEKID                string    `bson:"eek_id"`
	EncryptedKeyMaterial []byte    `bson:"encrypted_key_material"`
	CreatedAt            time.Time `bson:"created_at"`
}

type aliasDocument struct {
	Alias string `bson:"_id"`
	DEKID string `bson:"dek_id"`
}

func (s *Store) CreateEEK(ctx context.Context, rec envelope.EEKRecord) error {
	doc := eekDocument{
		ID:            rec.ID,
		Variant:       int(rec.Variant),
		LocalFileName: rec.LocalFileName,
		AwsARN:        rec.AwsARN,
		AwsRegion:     rec.AwsRegion,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.eeks.ReplaceOne(ctx, bson.M{"_id": rec.ID}, doc, opts); err != nil {
		return fmt.Errorf("mongodb create eek %q: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) GetEEK(ctx context.Context, id string) (envelope.EEKRecord, error) {
	var doc eekDocument
	if err := s.eeks.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return envelope.EEKRecord{}, envelope.ErrNotFound
		}
		return envelope.EEKRecord{}, fmt.Errorf("mongodb get eek %q: %w", id, err)
	}
	return envelope.EEKRecord{
		ID:            doc.ID,
		Variant:       envelope.EEKVariant(doc.Variant),
		LocalFileName: doc.LocalFileName,
		AwsARN:        doc.AwsARN,
		AwsRegion:     doc.AwsRegion,
	}, nil
}

func (s *Store) CreateDEK(ctx context.Context, rec envelope.DEKRecord) error {
	doc := dekDocument{
		ID:                   rec.ID,
		EEKID:                rec.EEKID,
		EncryptedKeyMaterial: rec.EncryptedKeyMaterial,
		CreatedAt:            rec.CreatedAt,
	}
	if _, err := s.deks.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongodb create dek %q: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) GetDEK(ctx context.Context, id string) (envelope.DEKRecord, error) {
	var doc dekDocument
	if err := s.deks.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return envelope.DEKRecord{}, envelope.ErrNotFound
		}
		return envelope.DEKRecord{}, fmt.Errorf("mongodb get dek %q: %w", id, err)
	}
	return envelope.DEKRecord{
		ID:                   doc.ID,
		EEKID:                doc.EEKID,
		EncryptedKeyMaterial: doc.EncryptedKeyMaterial,
		CreatedAt:            doc.CreatedAt,
	}, nil
}

func (s *Store) CreateAlias(ctx context.Context, alias, dekID string) error {
	doc := aliasDocument{Alias: alias, DEKID: dekID}
	if _, err := s.aliases.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return envelope.ErrAliasExists
		}
		return fmt.Errorf("mongodb create alias %q: %w", alias, err)
	}
	return nil
}

func (s *Store) UpdateAlias(ctx context.Context, alias, dekID string) error {
	res, err := s.aliases.UpdateOne(ctx, bson.M{"_id": alias}, bson.M{"$set": bson.M{"dek_id": dekID}})
	if err != nil {
		return fmt.Errorf("mongodb update alias %q: %w", alias, err)
	}
	if res.MatchedCount == 0 {
		return envelope.ErrNotFound
	}
	return nil
}

func (s *Store) ResolveAlias(ctx context.Context, alias string) (string, error) {
	var doc aliasDocument
	if err := s.aliases.FindOne(ctx, bson.M{"_id": alias}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", envelope.ErrNotFound
		}
		return "", fmt.Errorf("mongodb resolve alias %q: %w", alias, err)
	}
	return doc.DEKID, nil
}
