package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"basket-shop/internal/models"
	"basket-shop/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var (
	ErrBasketNotFound  = errors.New("basket not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrProfileNotFound = errors.New("profile not found")
)

// validID reports whether id can be compared with a UUID column. Anything
// else makes Postgres fail the whole query instead of matching no row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema migrations
func (s *Store) Migrate() error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{
		MigrationsTable: "basket_shop_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

// ListAvailableBaskets retrieves available baskets, newest first
func (s *Store) ListAvailableBaskets(ctx context.Context) ([]models.Basket, error) {
	baskets := []models.Basket{}
	err := s.db.SelectContext(ctx, &baskets,
		"SELECT * FROM baskets WHERE available = TRUE ORDER BY created_at DESC")
	return baskets, err
}

// ListFeaturedBaskets retrieves available baskets flagged for the home page
func (s *Store) ListFeaturedBaskets(ctx context.Context) ([]models.Basket, error) {
	baskets := []models.Basket{}
	err := s.db.SelectContext(ctx, &baskets,
		`SELECT * FROM baskets
		 WHERE available = TRUE AND is_featured_product = TRUE
		 ORDER BY created_at DESC`)
	return baskets, err
}

// GetBasketByID retrieves a basket by ID
func (s *Store) GetBasketByID(ctx context.Context, id string) (*models.Basket, error) {
	if !validID(id) {
		return nil, ErrBasketNotFound
	}
	var basket models.Basket
	err := s.db.GetContext(ctx, &basket, "SELECT * FROM baskets WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBasketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &basket, nil
}

// GetBasketBySlug retrieves a basket by its URL slug
func (s *Store) GetBasketBySlug(ctx context.Context, slug string) (*models.Basket, error) {
	var basket models.Basket
	err := s.db.GetContext(ctx, &basket, "SELECT * FROM baskets WHERE slug = $1", slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBasketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &basket, nil
}

// GetBasketItems retrieves the contents of a basket
func (s *Store) GetBasketItems(ctx context.Context, basketID string) ([]models.BasketItem, error) {
	items := []models.BasketItem{}
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM basket_items WHERE basket_id = $1 ORDER BY category, item_name", basketID)
	return items, err
}

// ListProduce retrieves the produce selectable in a custom basket
func (s *Store) ListProduce(ctx context.Context) ([]models.ProduceItem, error) {
	items := []models.ProduceItem{}
	err := s.db.SelectContext(ctx, &items, "SELECT id, name, price FROM produce_items ORDER BY name")
	return items, err
}
