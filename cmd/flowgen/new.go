package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flowgen/internal/ui"
	"flowgen/internal/views"
	"flowgen/internal/wizard"
	sdk "flowgen/sdk/go"
)

type newOptions struct {
	context string
	answers map[string]string
	outDir  string
	yes     bool
}

func newCmd() *cobra.Command {
	var (
		opts    newOptions
		answers []string
	)
	cmd := &cobra.Command{
		Use:   "new [requirement...]",
		Short: "Generate a workflow from a requirement",
		Long: `Runs the generation wizard: analysis, clarifying questions, spec review,
JSON generation and testing. With --yes the spec is approved as generated and
questions without an --answer are left unanswered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			opts.answers, err = parseAnswers(answers)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			p := ui.NewPrompter(cmd.InOrStdin(), out)
			requirement := strings.TrimSpace(strings.Join(args, " "))
			if requirement == "" {
				if opts.yes {
					return errors.New("a requirement is required with --yes")
				}
				if requirement, err = p.Line("Describe the workflow you need", ""); err != nil {
					return err
				}
			}

			m := wizard.New(rt.Client, rt.Store)
			defer m.Close()
			m.OnChange(progressPrinter(cmd.ErrOrStderr()))
			if err := m.SetRequirement(requirement); err != nil {
				return err
			}
			if err := m.SetContext(opts.context); err != nil {
				return err
			}
			done, err := runWizard(cmd.Context(), m, p, out, opts)
			if err != nil {
				return err
			}
			if !opts.yes {
				if done, err = editDocument(m, p, done); err != nil {
					return err
				}
			}
			return finishWorkflow(out, p, m.State().WorkflowID, done, opts, rt.Config.Output.Dir)
		},
	}
	cmd.Flags().StringVar(&opts.context, "context", "", "additional context sent with the requirement")
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "answer a clarifying question as id=value (repeatable)")
	cmd.Flags().StringVar(&opts.outDir, "out", "", "export the final document to this directory")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "run without prompts")
	return cmd
}

func parseAnswers(items []string) (map[string]string, error) {
	out := make(map[string]string, len(items))
	for _, item := range items {
		id, value, ok := strings.Cut(item, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --answer %q, expected id=value", item)
		}
		out[id] = strings.TrimSpace(value)
	}
	return out, nil
}

const requiredMark = "*"

var stepLabels = map[wizard.StepName]string{
	wizard.StepAnalyzing:      "Analyzing requirement...",
	wizard.StepGeneratingSpec: "Generating development spec...",
	wizard.StepGeneratingJSON: "Generating workflow JSON...",
	wizard.StepTesting:        "Testing and optimizing...",
}

// progressPrinter reports each waiting step once.
func progressPrinter(w io.Writer) func(wizard.Snapshot) {
	var last wizard.StepName
	return func(s wizard.Snapshot) {
		name := s.Step.Name()
		if name == last {
			return
		}
		last = name
		if label, ok := stepLabels[name]; ok {
			fmt.Fprintln(w, ui.StyleMuted.Render(label))
		}
	}
}

// runWizard drives the machine until it completes. Failed calls are offered for retry.
func runWizard(ctx context.Context, m *wizard.Machine, p *ui.Prompter, out io.Writer, opts newOptions) (wizard.Completed, error) {
	err := m.Submit(ctx)
	for {
		if err != nil && !retryable(m) {
			return wizard.Completed{}, err
		}
		st := m.State()
		switch s := st.Step.(type) {
		case wizard.Completed:
			return s, nil
		case wizard.Input:
			if st.Error != "" || opts.yes {
				return wizard.Completed{}, errors.New(orDefault(st.Error, "workflow generation was reset"))
			}
			err = restart(ctx, m, p)
		case wizard.Questions:
			err = answerQuestions(m, p, s, opts)
			if err == nil {
				err = m.SubmitAnswers(ctx)
			}
		case wizard.SpecReview:
			err = reviewSpec(ctx, m, p, out, s, opts)
		default:
			if st.Error == "" {
				return wizard.Completed{}, fmt.Errorf("wizard stopped in step %s", st.Step.Name())
			}
			fmt.Fprintln(out, ui.StyleError.Render(st.Error))
			if opts.yes {
				return wizard.Completed{}, errors.New(st.Error)
			}
			again, perr := p.Confirm("Retry?", true)
			if perr != nil {
				return wizard.Completed{}, perr
			}
			if !again {
				return wizard.Completed{}, errors.New(st.Error)
			}
			err = m.Retry(ctx)
		}
	}
}

// retryable reports whether the last failure left the machine waiting on a call that can be retried.
func retryable(m *wizard.Machine) bool {
	st := m.State()
	return st.Error != "" && wizard.Waiting(st.Step.Name())
}

func restart(ctx context.Context, m *wizard.Machine, p *ui.Prompter) error {
	requirement, err := p.Line("Describe the workflow you need", "")
	if err != nil {
		return err
	}
	if err := m.SetRequirement(requirement); err != nil {
		return err
	}
	return m.Submit(ctx)
}

func answerQuestions(m *wizard.Machine, p *ui.Prompter, q wizard.Questions, opts newOptions) error {
	for _, question := range q.Questions {
		value, ok := opts.answers[question.ID]
		if !ok {
			if opts.yes {
				continue
			}
			var err error
			label := questionLabel(question)
			if question.Type == sdk.QuestionChoice && len(question.Options) > 0 {
				value, err = p.Choose(label, question.Options)
			} else {
				if len(question.Options) > 0 {
					label += " (" + strings.Join(question.Options, ", ") + ")"
				}
				value, err = p.Line(label, "")
			}
			if err != nil {
				return err
			}
		}
		if err := m.SetAnswer(question.ID, value); err != nil {
			return err
		}
	}
	return nil
}

// questionLabel marks required questions. Leaving them blank does not block submission.
func questionLabel(q sdk.Question) string {
	if q.Required {
		return q.Question + " " + ui.StyleError.Render(requiredMark)
	}
	return q.Question
}

func reviewSpec(ctx context.Context, m *wizard.Machine, p *ui.Prompter, out io.Writer, s wizard.SpecReview, opts newOptions) error {
	fmt.Fprintln(out, ui.HeaderBox().Render("Development spec"))
	fmt.Fprintln(out, s.Spec)
	if opts.yes {
		return m.ApproveSpec(ctx)
	}
	choice, err := p.Choose("Review the development spec", []string{"Approve", "Edit", "Reset"})
	if err != nil {
		return err
	}
	switch choice {
	case "Edit":
		text, err := ui.Edit(s.Spec, ".md")
		if err != nil {
			return err
		}
		return m.EditSpec(text)
	case "Reset":
		m.Reset()
		return nil
	case "Approve":
		return m.ApproveSpec(ctx)
	default:
		return nil
	}
}

// editDocument lets the user adjust the final JSON in $EDITOR before it is shown and exported.
func editDocument(m *wizard.Machine, p *ui.Prompter, done wizard.Completed) (wizard.Completed, error) {
	edit, err := p.Confirm("Edit the workflow JSON before export?", false)
	if err != nil || !edit {
		return done, err
	}
	text, err := ui.Edit(done.Document, ".json")
	if err != nil {
		return done, err
	}
	if err := m.EditDocument(text); err != nil {
		return done, err
	}
	if c, ok := m.State().Step.(wizard.Completed); ok {
		return c, nil
	}
	return done, nil
}

// finishWorkflow shows the test outcome and the final document, then exports it.
func finishWorkflow(out io.Writer, p *ui.Prompter, id int64, done wizard.Completed, opts newOptions, defaultDir string) error {
	if viper.GetBool("json") {
		if err := printJSON(out, map[string]any{
			"id":           id,
			"test_results": done.Result,
			"workflow":     done.Document,
		}); err != nil {
			return err
		}
	} else {
		views.RenderTestResults(out, done.Result)
		fmt.Fprintln(out, ui.SuccessBox().Render(fmt.Sprintf("Workflow %d is ready", id)))
		fmt.Fprintln(out, done.Document)
	}
	dir := opts.outDir
	if dir == "" {
		if opts.yes {
			return nil
		}
		export, err := p.Confirm("Export the workflow JSON to "+orDefault(defaultDir, ".")+"?", true)
		if err != nil || !export {
			return err
		}
		dir = defaultDir
	}
	path, err := views.WriteDocument(dir, id, done.Document)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, ui.StyleSuccess.Render("Saved "+path))
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
