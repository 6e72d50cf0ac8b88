// Package mongo reads study history and notification settings from MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/nudge/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	SessionsCollection = "study_sessions"
	TasksCollection    = "tasks"
	SettingsCollection = "notification_settings"
)

type settingsDocument struct {
	UserID    string                      `bson:"_id"`
	Settings  domain.NotificationSettings `bson:"settings"`
	UpdatedAt time.Time                   `bson:"updated_at"`
}

// Repository implements history and settings reads on a MongoDB database.
type Repository struct {
	db       *mongo.Database
	fallback domain.NotificationSettings
}

// NewRepository creates a repository. fallback is returned for users that
// have no stored settings.
func NewRepository(db *mongo.Database, fallback domain.NotificationSettings) *Repository {
	return &Repository{db: db, fallback: fallback}
}

// EnsureIndexes creates the indexes the queries rely on.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(SessionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "started_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}
	_, err = r.db.Collection(TasksCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "due_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create tasks index: %w", err)
	}
	return nil
}

// ListSessions returns the user's sessions started at or after since,
// oldest first.
func (r *Repository) ListSessions(ctx context.Context, userID string, since time.Time) ([]domain.StudySession, error) {
	filter := bson.M{"user_id": userID, "started_at": bson.M{"$gte": since}}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}})

	cursor, err := r.db.Collection(SessionsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	sessions := []domain.StudySession{}
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, nil
}

// ListTasks returns all of the user's tasks ordered by due date.
func (r *Repository) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "due_at", Value: 1}})

	cursor, err := r.db.Collection(TasksCollection).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	tasks := []domain.Task{}
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return tasks, nil
}

// Settings returns the user's stored settings or the fallback.
func (r *Repository) Settings(ctx context.Context, userID string) (domain.NotificationSettings, error) {
	var doc settingsDocument
	err := r.db.Collection(SettingsCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return r.fallback, nil
	}
	if err != nil {
		return domain.NotificationSettings{}, fmt.Errorf("find settings: %w", err)
	}
	return doc.Settings, nil
}

// SaveSettings upserts the user's settings.
func (r *Repository) SaveSettings(ctx context.Context, userID string, s domain.NotificationSettings) error {
	doc := settingsDocument{UserID: userID, Settings: s, UpdatedAt: time.Now().UTC()}
	_, err := r.db.Collection(SettingsCollection).ReplaceOne(ctx,
		bson.M{"_id": userID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// InsertSessions stores study sessions.
func (r *Repository) InsertSessions(ctx context.Context, sessions []domain.StudySession) error {
	if len(sessions) == 0 {
		return nil
	}
	docs := make([]any, len(sessions))
	for i, s := range sessions {
		docs[i] = s
	}
	if _, err := r.db.Collection(SessionsCollection).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert sessions: %w", err)
	}
	return nil
}

// InsertTasks stores tasks.
func (r *Repository) InsertTasks(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	docs := make([]any, len(tasks))
	for i, t := range tasks {
		docs[i] = t
	}
	if _, err := r.db.Collection(TasksCollection).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert tasks: %w", err)
	}
	return nil
}
