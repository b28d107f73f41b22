package db

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/crowdlines/crowdlines/internal/models"
	"github.com/crowdlines/crowdlines/internal/store"
)

const connectTimeout = 10 * time.Second

// Init opens a GORM connection for a postgres:// or sqlite:// URL.
func Init(dbURL string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	sqliteDB := false

	switch {
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		dialector = postgres.Open(dbURL)
		log.Println("Connecting to PostgreSQL database...")
	case strings.HasPrefix(dbURL, "sqlite://"):
		dsn := strings.TrimPrefix(dbURL, "sqlite://")
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)"
		}
		dialector = sqlite.Open(dsn)
		sqliteDB = true
		log.Println("Connecting to SQLite database at", dsn)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL %q: must start with postgres://, sqlite:// or mongodb://", dbURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if sqliteDB {
		// one writer at a time; extra connections only hit SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}

	log.Println("Database connection established.")
	return db, nil
}

// AutoMigrate creates the posts, comments and post_comments tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Post{}, &models.Comment{}, &models.PostComment{})
}

// ConnectMongo dials a mongodb:// or mongodb+srv:// URL and pings it.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Println("Connected to MongoDB.")
	return client, nil
}

// IsMongoURL reports whether dbURL selects the mongo backend.
func IsMongoURL(dbURL string) bool {
	return strings.HasPrefix(dbURL, "mongodb://") || strings.HasPrefix(dbURL, "mongodb+srv://")
}

// OpenStore connects to the database named by dbURL, creates the schema
// it needs and returns the matching Store.
func OpenStore(ctx context.Context, dbURL, mongoDatabase string) (*store.Store, error) {
	if IsMongoURL(dbURL) {
		client, err := ConnectMongo(ctx, dbURL)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := store.EnsureMongoIndexes(ctx, client, mongoDatabase); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return store.NewMongoStore(client, mongoDatabase), nil
	}

	database, err := Init(dbURL)
	if err != nil {
		return nil, err
	}
	if err := migrateOrClose(database); err != nil {
		return nil, err
	}
	return store.NewGormStore(database), nil
}

// migrateOrClose runs AutoMigrate and closes the connection if it fails.
func migrateOrClose(database *gorm.DB) error {
	log.Println("Running database migrations...")
	if err := AutoMigrate(database); err != nil {
		if sqlDB, dbErr := database.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return fmt.Errorf("migrate: %w", err)
	}
	log.Println("Migrations complete.")
	return nil
}
