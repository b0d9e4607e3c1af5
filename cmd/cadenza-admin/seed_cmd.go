package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cadenzahq/cadenza/modules/workstream/infrastructure/persistence"
	"github.com/cadenzahq/cadenza/modules/workstream/services"
	"github.com/cadenzahq/cadenza/pkg/composables"
	"github.com/cadenzahq/cadenza/pkg/configuration"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
)

// newSeedCmd creates a small demo hierarchy through the real service
// stack, so depths, grants and the invalidation audit log all look the way
// production writes them.
func newSeedCmd() *cobra.Command {
	var ownerID string
	var viewerID string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed a demo workstream hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := uuid.New()
			if ownerID != "" {
				parsed, err := uuid.Parse(ownerID)
				if err != nil {
					return fmt.Errorf("invalid --owner: %w", err)
				}
				owner = parsed
			}
			viewer := uuid.New()
			if viewerID != "" {
				parsed, err := uuid.Parse(viewerID)
				if err != nil {
					return fmt.Errorf("invalid --viewer: %w", err)
				}
				viewer = parsed
			}

			pool, err := connectPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := configuration.Use().Logger()
			bus := eventbus.NewEventPublisher(logger)
			cache := services.NewMemoryCache()
			repo := persistence.NewWorkstreamRepository()
			permissions := services.NewPermissionService(repo, cache, nil, logger)
			workstreams := services.NewWorkstreamService(repo, permissions, services.NewHierarchyValidator(repo), cache, bus, logger)
			grants := services.NewGrantService(repo, permissions, bus, logger)
			services.NewCacheInvalidationBroker(repo, cache, logger).Register(bus)

			ctx := composables.WithPool(cmd.Context(), pool)
			ctx = composables.WithActor(ctx, composables.Actor{UserID: owner})

			productLine, err := workstreams.Create(ctx, services.CreateWorkstreamInput{
				Name: "Summer Release",
				Type: "product_line",
			})
			if err != nil {
				return err
			}
			initiative, err := workstreams.Create(ctx, services.CreateWorkstreamInput{
				Name:     "Launch Campaign",
				Type:     "initiative",
				ParentID: &productLine.ID,
			})
			if err != nil {
				return err
			}
			experiment, err := workstreams.Create(ctx, services.CreateWorkstreamInput{
				Name:     "Hero Banner A/B",
				Type:     "experiment",
				ParentID: &initiative.ID,
			})
			if err != nil {
				return err
			}
			viewerGrant, err := grants.Create(ctx, services.CreateGrantInput{
				WorkstreamID: productLine.ID,
				UserID:       viewer,
				Level:        "view",
				Scope:        "self_and_descendants",
			})
			if err != nil {
				return err
			}

			return writeJSON(map[string]string{
				"owner":        owner.String(),
				"viewer":       viewer.String(),
				"product_line": productLine.ID.String(),
				"initiative":   initiative.ID.String(),
				"experiment":   experiment.ID.String(),
				"viewer_grant": viewerGrant.ID.String(),
			})
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner", "", "user id that owns the seeded tree (random when empty)")
	cmd.Flags().StringVar(&viewerID, "viewer", "", "user id granted view on the tree (random when empty)")
	return cmd
}
