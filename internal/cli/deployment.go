package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/orchestrator"
)

// NewDeploymentCmd создаёт группу команд для управления развёртываниями.
func NewDeploymentCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deployment",
		Aliases: []string{"dep"},
		Short:   "Manage deployments",
	}

	cmd.AddCommand(
		newDeploymentRequestCmd(appFn, outputFn),
		newDeploymentStatusCmd(appFn, outputFn),
		newDeploymentHistoryCmd(appFn, outputFn),
		newDeploymentListCmd(appFn, outputFn),
		newDeploymentUpdateCmd(appFn, outputFn),
		newDeploymentDeleteCmd(appFn, outputFn),
	)

	return cmd
}

// scopeFlags — от чьего имени выполняется запрос.
type scopeFlags struct {
	user   string
	tenant string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.user, "user", "", "Requesting user ID (required)")
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "Requesting user's tenant ID (required)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("tenant")
}

func (f *scopeFlags) scope() (domain.RequesterScope, error) {
	user, err := parseID(f.user, "user")
	if err != nil {
		return domain.RequesterScope{}, err
	}
	tenant, err := parseID(f.tenant, "tenant")
	if err != nil {
		return domain.RequesterScope{}, err
	}
	return domain.RequesterScope{UserID: user, TenantID: tenant}, nil
}

// templateRef разбирает ссылку на шаблон: UUID или имя.
func templateRef(raw string, version int) domain.TemplateRef {
	if id, err := uuid.Parse(raw); err == nil {
		return domain.TemplateRef{TemplateID: id, Version: version}
	}
	return domain.TemplateRef{Name: raw, Version: version}
}

var deploymentHeaders = []string{"ID", "NAME", "STATE", "REVISION", "PROJECT", "UPDATED"}

func deploymentRow(id uuid.UUID, name string, state domain.DeploymentState, revision int64, project string, updated string) []string {
	return []string{id.String(), name, string(state), strconv.FormatInt(revision, 10), project, updated}
}

func newDeploymentRequestCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	var (
		scope    scopeFlags
		template string
		version  int
		course   string
		name     string
		params   map[string]string
		key      string
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request a new deployment of a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scope.scope()
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

			id, err := a.Orchestrator.RequestDeployment(cmd.Context(), orchestrator.DeploymentRequest{
				Template:       templateRef(template, version),
				Target:         domain.Target{CourseID: courseID},
				Scope:          sc,
				Name:           name,
				Parameters:     params,
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}

			view, err := a.Orchestrator.GetStatus(cmd.Context(), id)
			if err != nil {
				return err
			}
			out.Successf("Deployment requested: %s", id)
			return out.Print(deploymentHeaders, [][]string{
				deploymentRow(view.ID, view.Name, view.State, view.Revision, view.ProjectID, timestamp(view.UpdatedAt)),
			}, view)
		},
	}

	scope.register(cmd)
	cmd.Flags().StringVar(&template, "template", "", "Template ID or name (required)")
	cmd.Flags().IntVar(&version, "version", 0, "Template version (default: latest active)")
	cmd.Flags().StringVar(&course, "course", "", "Course ID (default: personal project)")
	cmd.Flags().StringVar(&name, "name", "", "Deployment name")
	cmd.Flags().StringToStringVar(&params, "param", nil, "Stack parameter key=value (repeatable)")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "Return the existing deployment for a repeated key")
	cmd.MarkFlagRequired("template")

	return cmd
}

func newDeploymentStatusCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Show deployment state and access endpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "deployment id")
			if err != nil {
				return err
			}
			a, err := appFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			view, err := a.Orchestrator.GetStatus(cmd.Context(), id)
			if err != nil {
				return err
			}
			if out.jsonMode {
				return out.JSON(view)
			}

			fields := [][2]string{
				{"ID", view.ID.String()},
				{"Name", view.Name},
				{"State", string(view.State)},
				{"Revision", strconv.FormatInt(view.Revision, 10)},
				{"Template", view.TemplateID.String()},
				{"Version", view.VersionID.String()},
				{"Project", view.ProjectID},
				{"Retries", strconv.Itoa(view.TotalRetries)},
				{"Updated", timestamp(view.UpdatedAt)},
			}
			if view.PendingVersionID != nil {
				fields = append(fields, [2]string{"Pending version", view.PendingVersionID.String()})
			}
			if view.CancelRequested {
				fields = append(fields, [2]string{"Deletion", "requested"})
			}
			if view.LastError != nil {
				fields = append(fields, [2]string{"Last error", fmt.Sprintf("%s: %s", view.LastError.Kind, view.LastError.Message)})
			}
			if err := out.Fields(fields, view); err != nil {
				return err
			}
			if len(view.Instances) == 0 {
				return nil
			}

			fmt.Fprintln(out.w)
			var rows [][]string
			for _, inst := range view.Instances {
				for _, ep := range inst.Endpoints {
					target := ep.URL
					if target == "" {
						target = ep.Address
						if ep.Port > 0 {
							target += ":" + strconv.Itoa(ep.Port)
						}
					}
					rows = append(rows, []string{inst.Name, inst.Address, string(ep.Protocol), target, ep.Username})
				}
				if len(inst.Endpoints) == 0 {
					rows = append(rows, []string{inst.Name, inst.Address, "", "", ""})
				}
			}
			return out.Table([]string{"INSTANCE", "ADDRESS", "PROTOCOL", "ENDPOINT", "USER"}, rows)
		},
	}
}

func newDeploymentHistoryCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "history ID",
		Short: "Show deployment state transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "deployment id")
			if err != nil {
				return err
			}
			a, err := appFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			events, err := a.Orchestrator.History(cmd.Context(), id)
			if err != nil {
				return err
			}

			headers := []string{"REVISION", "FROM", "TO", "CAUSE", "RETRIES", "ERROR", "AT"}
			rows := make([][]string, len(events))
			for i, ev := range events {
				var errText string
				if ev.ErrorKind != "" {
					errText = strings.TrimSpace(string(ev.ErrorKind) + ": " + ev.Message)
				}
				rows[i] = []string{
					strconv.FormatInt(ev.Revision, 10),
					string(ev.From),
					string(ev.To),
					ev.Cause,
					strconv.Itoa(ev.Retries),
					errText,
					timestamp(ev.CreatedAt),
				}
			}
			return out.Print(headers, rows, events)
		},
	}
}

func newDeploymentListCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live deployments of an OpenStack project",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			deployments, err := a.Deployments.ListByProject(cmd.Context(), project)
			if err != nil {
				return err
			}

			rows := make([][]string, len(deployments))
			for i, d := range deployments {
				rows[i] = deploymentRow(d.ID, d.Name, d.State, d.Revision, d.ProjectID, timestamp(d.UpdatedAt))
			}
			return out.Print(deploymentHeaders, rows, deployments)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "OpenStack project ID (required)")
	cmd.MarkFlagRequired("project")

	return cmd
}

func newDeploymentUpdateCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	var (
		scope    scopeFlags
		template string
		version  int
	)

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Move an active deployment to another version of its template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "deployment id")
			if err != nil {
				return err
			}
			sc, err := scope.scope()
			if err != nil {
				return err
			}
			a, err := appFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			if err := a.Orchestrator.RequestUpdate(cmd.Context(), id, templateRef(template, version), sc); err != nil {
				return err
			}

			out.Successf("Update requested: %s", id)
			return nil
		},
	}

	scope.register(cmd)
	cmd.Flags().StringVar(&template, "template", "", "Template ID or name (required)")
	cmd.Flags().IntVar(&version, "version", 0, "Target version (default: latest active)")
	cmd.MarkFlagRequired("template")

	return cmd
}

func newDeploymentDeleteCmd(appFn AppFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Request deletion of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "deployment id")
			if err != nil {
				return err
			}
			a, err := appFn(cmd.Context())
			if err != nil {
				return err
			}
			out := outputFn()

			if err := a.Orchestrator.RequestDeletion(cmd.Context(), id); err != nil {
				return err
			}

			out.Successf("Deletion requested: %s", id)
			return nil
		},
	}
}
