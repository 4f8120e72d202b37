package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/shaiso/Dozilab/internal/config"
	"github.com/shaiso/Dozilab/internal/domain"
)

// NewMigrateCmd создаёт команды миграций PostgreSQL.
func NewMigrateCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	var target int64
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration or down to --to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), appFn, func(m migrator) error {
				if err := m.Down(cmd.Context(), target); err != nil {
					return err
				}
				outputFn().Successf("Rollback complete")
				return nil
			})
		},
	}
	down.Flags().Int64Var(&target, "to", 0, "Target version")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd.Context(), appFn, func(m migrator) error {
					if err := m.Up(cmd.Context()); err != nil {
						return err
					}
					outputFn().Successf("Migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd.Context(), appFn, func(m migrator) error {
					return m.Status(cmd.Context())
				})
			},
		},
		down,
	)

	return cmd
}

type migrator interface {
	Up(ctx context.Context) error
	Status(ctx context.Context) error
	Down(ctx context.Context, target int64) error
}

func withMigrator(ctx context.Context, appFn AppFunc, fn func(m migrator) error) error {
	a, err := appFn(ctx)
	if err != nil {
		return err
	}
	m, err := a.Migrator()
	if err != nil {
		return err
	}
	return fn(m)
}

// NewProjectCmd создаёт команды маппинга курсов и владельцев на проекты.
//
// Маппинг ведёт внешняя система курсов; команда нужна для первичного
// наполнения и отладки.
func NewProjectCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage course and personal project mappings",
	}

	var (
		projectID string
		owner     string
		tenant    string
		course    string
	)

	mapCmd := &cobra.Command{
		Use:   "map",
		Short: "Map a course or a personal space to an OpenStack project",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := parseID(owner, "owner")
			if err != nil {
				return err
			}
			tenantID, err := parseID(tenant, "tenant")
			if err != nil {
				return err
			}
			courseID, err := parseOptionalID(course, "course")
			if err != nil {
				return err
			}
			a, err := appFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			m := &domain.ProjectMapping{
				ProjectID: projectID,
				CourseID:  courseID,
				OwnerID:   ownerID,
				TenantID:  tenantID,
			}
			if err := a.Projects.PutMapping(cmd.Context(), m); err != nil {
				return err
			}

			kind := "personal"
			if !m.IsPersonal() {
				kind = "course " + m.CourseID.String()
			}
			out.Successf("Mapped %s to project %s", kind, m.ProjectID)
			return nil
		},
	}
	mapCmd.Flags().StringVar(&projectID, "project", "", "OpenStack project ID (required)")
	mapCmd.Flags().StringVar(&owner, "owner", "", "Course lecturer or personal owner ID (required)")
	mapCmd.Flags().StringVar(&tenant, "tenant", "", "Tenant ID (required)")
	mapCmd.Flags().StringVar(&course, "course", "", "Course ID (default: personal mapping)")
	mapCmd.MarkFlagRequired("project")
	mapCmd.MarkFlagRequired("owner")
	mapCmd.MarkFlagRequired("tenant")

	cmd.AddCommand(mapCmd)
	return cmd
}

// NewConfigCmd создаёт команду просмотра действующей конфигурации.
func NewConfigCmd(configFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFn()
			if err != nil {
				return err
			}
			out := outputFn()

			redacted := cfg.Redacted()
			if out.jsonMode {
				return out.JSON(redacted)
			}
			data, err := redacted.YAML()
			if err != nil {
				return err
			}
			_, err = out.w.Write(data)
			return err
		},
	})

	return cmd
}
