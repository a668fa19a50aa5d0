package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/chitbox/chitbox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrFolderNotFound is returned when a requested folder cannot be found.
var ErrFolderNotFound = errors.New("folder not found")

// FindOrCreateFolder returns the id of the user's folder of the given type,
// creating it when missing.
func FindOrCreateFolder(ctx context.Context, pool *pgxpool.Pool, userID string, folderType models.FolderType) (string, error) {
	var folderID string

	err := pool.QueryRow(ctx, `
		INSERT INTO folders (user_id, type, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, type) DO UPDATE SET name = folders.name
		RETURNING id
	`, userID, string(folderType), folderType.DisplayName()).Scan(&folderID)

	if err != nil {
		return "", fmt.Errorf("failed to find or create folder: %w", err)
	}

	return folderID, nil
}

// GetFolderByName returns the user's folder with the given display name.
func GetFolderByName(ctx context.Context, pool *pgxpool.Pool, userID, name string) (*models.Folder, error) {
	var folder models.Folder
	var folderType string

	err := pool.QueryRow(ctx, `
		SELECT id, user_id, type, name
		FROM folders
		WHERE user_id = $1 AND name = $2
	`, userID, name).Scan(&folder.ID, &folder.UserID, &folderType, &folder.Name)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFolderNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}

	folder.Type = models.FolderType(folderType)
	return &folder, nil
}

// ListFolders returns all folders of a user ordered by name.
func ListFolders(ctx context.Context, pool *pgxpool.Pool, userID string) ([]*models.Folder, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, user_id, type, name
		FROM folders
		WHERE user_id = $1
		ORDER BY name
	`, userID)

	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []*models.Folder
	for rows.Next() {
		var folder models.Folder
		var folderType string
		if err := rows.Scan(&folder.ID, &folder.UserID, &folderType, &folder.Name); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folder.Type = models.FolderType(folderType)
		folders = append(folders, &folder)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}

	return folders, nil
}
