package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Dozilab/internal/app"
	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/importer"
	"github.com/shaiso/Dozilab/internal/registry"
)

// AppFunc лениво собирает приложение.
type AppFunc func(ctx context.Context) (*app.App, error)

// NewTemplateCmd создаёт группу команд для управления шаблонами.
func NewTemplateCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage environment templates",
	}

	cmd.AddCommand(
		newTemplateCreateCmd(appFn, outputFn),
		newTemplateShowCmd(appFn, outputFn),
		newTemplateVersionsCmd(appFn, outputFn),
		newTemplatePublishCmd(appFn, outputFn),
		newTemplateImportCmd(appFn, outputFn),
		newTemplateApprovalCmd(appFn, outputFn, "submit", "Submit a template for approval", (*registry.Registry).Submit),
		newTemplateApprovalCmd(appFn, outputFn, "approve", "Approve a pending template", (*registry.Registry).Approve),
		newTemplateApprovalCmd(appFn, outputFn, "reject", "Reject a pending template", (*registry.Registry).Reject),
		newTemplateApprovalCmd(appFn, outputFn, "deprecate", "Deprecate an approved template", (*registry.Registry).Deprecate),
		newTemplateVisibilityCmd(appFn, outputFn),
	)

	return cmd
}

var templateHeaders = []string{"ID", "NAME", "APPROVAL", "VISIBILITY", "OWNER", "CREATED"}

func templateRow(t *domain.Template) []string {
	return []string{
		t.ID.String(),
		t.Name,
		string(t.Approval),
		string(t.Visibility),
		t.OwnerID.String(),
		timestamp(t.CreatedAt),
	}
}

var versionHeaders = []string{"ID", "VERSION", "ACTIVE", "COMMIT", "FOOTPRINT", "CREATED"}

func versionRow(v *domain.TemplateVersion) []string {
	commit := v.CommitSHA
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return []string{
		v.ID.String(),
		strconv.Itoa(v.Version),
		strconv.FormatBool(v.IsActive),
		commit,
		fmt.Sprintf("%d vm / %d vcpu / %d MB", v.Footprint.Instances, v.Footprint.VCPUs, v.Footprint.RAMMB),
		timestamp(v.CreatedAt),
	}
}

func newTemplateCreateCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	var (
		nt         registry.NewTemplate
		owner      string
		tenant     string
		visibility string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a template in DRAFT state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if nt.OwnerID, err = parseID(owner, "owner"); err != nil {
				return err
			}
			if nt.TenantID, err = parseID(tenant, "tenant"); err != nil {
				return err
			}
			nt.Visibility = domain.Visibility(visibility)

			a, err := appFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			t, err := a.Registry.CreateTemplate(cmd.Context(), nt)
			if err != nil {
				return err
			}

			out.Successf("Template created: %s", t.ID)
			return out.Print(templateHeaders, [][]string{templateRow(t)}, t)
		},
	}

	cmd.Flags().StringVar(&nt.Name, "name", "", "Template name (required)")
	cmd.Flags().StringVar(&nt.Description, "description", "", "Template description")
	cmd.Flags().StringVar(&nt.RepoURL, "repo", "", "Git repository: URL or owner/repo")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner user ID (required)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&visibility, "visibility", string(domain.VisibilityPrivate), "PRIVATE, TENANT_PUBLIC or GLOBAL")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func newTemplateShowCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show template details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "template id")
			if err != nil {
				return err
			}
			a, err := appFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			t, err := a.Registry.GetTemplate(cmd.Context(), id)
			if err != nil {
				return err
			}

			return out.Fields([][2]string{
				{"ID", t.ID.String()},
				{"Name", t.Name},
				{"Description", t.Description},
				{"Repository", t.RepoURL},
				{"Approval", string(t.Approval)},
				{"Visibility", string(t.Visibility)},
				{"Owner", t.OwnerID.String()},
				{"Tenant", t.TenantID.String()},
				{"Created", timestamp(t.CreatedAt)},
				{"Updated", timestamp(t.UpdatedAt)},
			}, t)
		},
	}
}

func newTemplateVersionsCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "versions TEMPLATE_ID",
		Short: "List template versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "template id")
			if err != nil {
				return err
			}
			a, err := appFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			versions, err := a.Registry.ListVersions(cmd.Context(), id)
			if err != nil {
				return err
			}

			rows := make([][]string, len(versions))
			for i := range versions {
				rows[i] = versionRow(&versions[i])
			}
			return out.Print(versionHeaders, rows, versions)
		},
	}
}

// footprintFlags — флаги ресурсов версии.
type footprintFlags struct {
	fp domain.Footprint
}

func (f *footprintFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.fp.Instances, "instances", 0, "Servers per deployment (default: counted from the template)")
	cmd.Flags().IntVar(&f.fp.VCPUs, "vcpus", 0, "vCPUs per deployment")
	cmd.Flags().IntVar(&f.fp.RAMMB, "ram-mb", 0, "RAM per deployment, MB")
}

func newTemplatePublishCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	var (
		file   string
		commit string
		fp     footprintFlags
	)

	cmd := &cobra.Command{
		Use:   "publish TEMPLATE_ID",
		Short: "Publish a new template version from a local HOT file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "template id")
			if err != nil {
				return err
			}

			content, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read template file: %w", err)
			}
			summary, err := importer.ValidateHOT(content)
			if err != nil {
				return err
			}
			if fp.fp.Instances == 0 {
				fp.fp.Instances = summary.Servers
			}

			a, err := appFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			v, err := a.Registry.PublishVersion(cmd.Context(), id, content, registry.VersionMeta{
				CommitSHA: commit,
				Footprint: fp.fp,
			})
			if err != nil {
				return err
			}

			out.Successf("Version %d published for template %s", v.Version, v.TemplateID)
			return out.Print(versionHeaders, [][]string{versionRow(v)}, v)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to the HOT template (required)")
	cmd.Flags().StringVar(&commit, "commit", "", "Source commit SHA to record")
	fp.register(cmd)
	cmd.MarkFlagRequired("file")

	return cmd
}

func newTemplateImportCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	var (
		src importer.Source
		fp  footprintFlags
	)

	cmd := &cobra.Command{
		Use:   "import TEMPLATE_ID",
		Short: "Import a template version from its git repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "template id")
			if err != nil {
				return err
			}
			a, err := appFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			v, err := a.Importer.Import(cmd.Context(), id, src, fp.fp)
			if err != nil {
				return err
			}

			out.Successf("Version %d imported for template %s", v.Version, v.TemplateID)
			return out.Print(versionHeaders, [][]string{versionRow(v)}, v)
		},
	}

	cmd.Flags().StringVar(&src.RepoURL, "repo", "", "Repository (default: the template's repository)")
	cmd.Flags().StringVar(&src.Ref, "ref", "", "Branch, tag or commit (default: HEAD)")
	cmd.Flags().StringVar(&src.Path, "path", importer.DefaultPath, "Template path inside the repository")
	fp.register(cmd)

	return cmd
}

// approvalFunc — переход согласования в реестре.
type approvalFunc func(r *registry.Registry, ctx context.Context, id uuid.UUID) (*domain.Template, error)

func newTemplateApprovalCmd(appFn AppFunc, outputFn func() *Output, use, short string, apply approvalFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "template id")
			if err != nil {
				return err
			}
			a, err := appFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			t, err := apply(a.Registry, cmd.Context(), id)
			if err != nil {
				return err
			}

			out.Successf("Template %s is now %s", t.ID, t.Approval)
			return out.Print(templateHeaders, [][]string{templateRow(t)}, t)
		},
	}
}

func newTemplateVisibilityCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "visibility ID PRIVATE|TENANT_PUBLIC|GLOBAL",
		Short: "Change template visibility",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "template id")
			if err != nil {
				return err
			}
			a, err := appFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			t, err := a.Registry.SetVisibility(cmd.Context(), id, domain.Visibility(args[1]))
			if err != nil {
				return err
			}

			out.Successf("Template %s visibility set to %s", t.ID, t.Visibility)
			return out.Print(templateHeaders, [][]string{templateRow(t)}, t)
		},
	}
}
