package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the Weaviate class holding one embedding record per lead.
const ClassName = "Lead"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// EnsureSchema checks if the lead class exists and creates it if not.
// Vectors are computed client-side, so the vectorizer is "none".
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return err
	}

	properties := []*models.Property{
		{
			Name:     "leadId",
			DataType: []string{"string"}, // UUID as string (exact match)
		},
		{
			Name:     "message",
			DataType: []string{"text"},
		},
		{
			Name:     "contactName",
			DataType: []string{"string"},
		},
		{
			Name:     "contactEmail",
			DataType: []string{"string"},
		},
		{
			Name:     "contactPhone",
			DataType: []string{"string"},
		},
		{
			Name:     "company",
			DataType: []string{"string"},
		},
		{
			Name:     "source",
			DataType: []string{"string"},
		},
		{
			Name:     "status",
			DataType: []string{"string"},
		},
		{
			Name:     "intent",
			DataType: []string{"string"},
		},
		{
			Name:     "urgency",
			DataType: []string{"string"},
		},
		{
			Name:     "qualityScore",
			DataType: []string{"int"},
		},
		{
			Name:     "receivedAt",
			DataType: []string{"string"},
		},
		{
			Name:     "textHash",
			DataType: []string{"string"},
		},
	}

	if !exists {
		class := &models.Class{
			Class:       ClassName,
			Description: "Lead embeddings for similarity search and deduplication",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	// Class exists, check for missing properties
	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, ClassName, p); err != nil {
				return err
			}
		}
	}

	return nil
}
