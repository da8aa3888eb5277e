package services

import (
	"context"
	"fmt"
	"time"

	"go-watchtower/internal/watch/models"
	"go-watchtower/pkg/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	corporationsCollection = "corporations"
	channelsCollection     = "channels"
)

// Repository handles database operations for the watch module. Records are
// loaded once at startup through the migration pipeline and written back on
// every significant mutation.
type Repository struct {
	mongodb *database.MongoDB
}

// NewRepository creates a new watch repository
func NewRepository(mongodb *database.MongoDB) *Repository {
	return &Repository{
		mongodb: mongodb,
	}
}

// LoadCorporations reads all tracked corporations, migrating legacy record
// shapes and merging duplicates as it goes.
func (r *Repository) LoadCorporations(ctx context.Context) ([]*models.TrackedCorporation, error) {
	tracer := otel.Tracer("go-watchtower/watch")
	ctx, span := tracer.Start(ctx, "watch.repository.load_corporations")
	defer span.End()

	collection := r.mongodb.Collection(corporationsCollection)

	cursor, err := collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to query corporations: %w", err)
	}
	defer cursor.Close(ctx)

	var rawDocs []bson.M
	if err := cursor.All(ctx, &rawDocs); err != nil {
		return nil, fmt.Errorf("failed to decode corporations: %w", err)
	}

	migrated := make([]bson.M, 0, len(rawDocs))
	for _, doc := range rawDocs {
		migrated = append(migrated, MigrateCorporationDoc(doc))
	}
	migrated = DedupeCorporationDocs(migrated)

	span.SetAttributes(attribute.Int("corporation_count", len(migrated)))

	corporations := make([]*models.TrackedCorporation, 0, len(migrated))
	for _, doc := range migrated {
		data, err := bson.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to re-marshal corporation document: %w", err)
		}
		var corp models.TrackedCorporation
		if err := bson.Unmarshal(data, &corp); err != nil {
			return nil, fmt.Errorf("failed to decode corporation record: %w", err)
		}
		corporations = append(corporations, &corp)
	}

	return corporations, nil
}

// LoadChannelConfigs reads all channel configurations, backfilling missing
// toggles.
func (r *Repository) LoadChannelConfigs(ctx context.Context) ([]*models.ChannelConfig, error) {
	collection := r.mongodb.Collection(channelsCollection)

	cursor, err := collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to query channel configs: %w", err)
	}
	defer cursor.Close(ctx)

	var rawDocs []bson.M
	if err := cursor.All(ctx, &rawDocs); err != nil {
		return nil, fmt.Errorf("failed to decode channel configs: %w", err)
	}

	configs := make([]*models.ChannelConfig, 0, len(rawDocs))
	for _, doc := range rawDocs {
		data, err := bson.Marshal(MigrateChannelDoc(doc))
		if err != nil {
			return nil, fmt.Errorf("failed to re-marshal channel document: %w", err)
		}
		var cfg models.ChannelConfig
		if err := bson.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode channel config: %w", err)
		}
		configs = append(configs, &cfg)
	}

	return configs, nil
}

// SaveCorporation upserts one corporation record. The document is keyed by
// corporation id alone, a corporation belongs to at most one server, so a
// save after a detach or re-attach replaces the existing record instead of
// stranding a copy under the old server id.
func (r *Repository) SaveCorporation(ctx context.Context, corp *models.TrackedCorporation) error {
	collection := r.mongodb.Collection(corporationsCollection)

	corp.UpdatedAt = time.Now().UTC()

	filter := bson.M{"corporation_id": corp.CorporationID}
	opts := options.Replace().SetUpsert(true)

	if _, err := collection.ReplaceOne(ctx, filter, corp, opts); err != nil {
		return fmt.Errorf("failed to save corporation %d: %w", corp.CorporationID, err)
	}
	return nil
}

// DeleteCorporation removes one corporation record
func (r *Repository) DeleteCorporation(ctx context.Context, corporationID int) error {
	collection := r.mongodb.Collection(corporationsCollection)

	if _, err := collection.DeleteOne(ctx, bson.M{"corporation_id": corporationID}); err != nil {
		return fmt.Errorf("failed to delete corporation %d: %w", corporationID, err)
	}
	return nil
}

// SaveChannelConfig upserts one channel configuration
func (r *Repository) SaveChannelConfig(ctx context.Context, cfg *models.ChannelConfig) error {
	collection := r.mongodb.Collection(channelsCollection)

	cfg.UpdatedAt = time.Now().UTC()

	filter := bson.M{"server_id": cfg.ServerID, "channel_id": cfg.ChannelID}
	opts := options.Replace().SetUpsert(true)

	if _, err := collection.ReplaceOne(ctx, filter, cfg, opts); err != nil {
		return fmt.Errorf("failed to save channel config %s: %w", cfg.ChannelID, err)
	}
	return nil
}

// DeleteChannelConfig removes one channel configuration
func (r *Repository) DeleteChannelConfig(ctx context.Context, serverID, channelID string) error {
	collection := r.mongodb.Collection(channelsCollection)

	filter := bson.M{"server_id": serverID, "channel_id": channelID}
	if _, err := collection.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete channel config %s: %w", channelID, err)
	}
	return nil
}

// BackupCorpus copies both collections into timestamp-suffixed backup
// collections. Runs before any destructive operation and on the periodic
// snapshot timer.
func (r *Repository) BackupCorpus(ctx context.Context) error {
	tracer := otel.Tracer("go-watchtower/watch")
	ctx, span := tracer.Start(ctx, "watch.repository.backup_corpus")
	defer span.End()

	suffix := time.Now().UTC().Unix()

	for _, name := range []string{corporationsCollection, channelsCollection} {
		backupName := fmt.Sprintf("%s_backup_%d", name, suffix)
		if err := r.copyCollection(ctx, name, backupName); err != nil {
			return fmt.Errorf("failed to back up %s: %w", name, err)
		}
	}

	span.SetAttributes(attribute.Int64("backup_suffix", suffix))
	return nil
}

func (r *Repository) copyCollection(ctx context.Context, from, to string) error {
	source := r.mongodb.Collection(from)

	cursor, err := source.Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", from, err)
	}
	defer cursor.Close(ctx)

	var docs []interface{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("failed to decode document from %s: %w", from, err)
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("cursor error on %s: %w", from, err)
	}

	if len(docs) == 0 {
		return nil
	}

	target := r.mongodb.Collection(to)
	if _, err := target.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to write %s: %w", to, err)
	}
	return nil
}
