package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"exam-prep-service/internal/app"
	"exam-prep-service/internal/config"
	"exam-prep-service/internal/domain"
	"github.com/spf13/cobra"
)

// NewTakeCmd runs one mock test interactively in the terminal.
func NewTakeCmd(configPath *string) *cobra.Command {
	var testID, email, password, name string
	cmd := &cobra.Command{
		Use:   "take",
		Short: "Take a mock test in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return err
			}
			st, err := buildStack(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			state := app.NewAuthState(st.provider)
			state.Init(cmd.Context(), "")
			defer state.Close()

			session, err := state.SignIn(cmd.Context(), email, password)
			if errors.Is(err, domain.ErrInvalidCredentials) {
				// the identity provider is in-process, so a first run registers the taker
				session, err = state.SignUp(cmd.Context(), email, password, name)
			}
			if err != nil {
				return err
			}
			return runTake(cmd.Context(), os.Stdin, cmd.OutOrStdout(), st.attempts, session.UserID, testID)
		},
	}
	cmd.Flags().StringVar(&testID, "test", "quick-maths", "mock test id")
	cmd.Flags().StringVar(&email, "email", "student@example.com", "account email")
	cmd.Flags().StringVar(&password, "password", "student123", "account password")
	cmd.Flags().StringVar(&name, "name", "Student", "display name for a new account")
	return cmd
}

// lockedWriter serializes writes from the input loop and the countdown goroutine.
type lockedWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lockedWriter) printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format, args...)
}

type termObserver struct {
	out     *lockedWriter
	warned  bool
	mu      sync.Mutex
	results chan domain.Result
}

func (o *termObserver) TimerTicked(remaining int) {
	o.mu.Lock()
	warn := app.LowTime(remaining) && !o.warned
	if warn {
		o.warned = true
	}
	o.mu.Unlock()
	if warn {
		o.out.printf("\n! %s left\n", app.FormatDuration(remaining))
	}
}

func (o *termObserver) TimeUp() {
	o.out.printf("\nTime is up, submitting your answers.\n")
}

func (o *termObserver) NavigateToResults(_ string, result domain.Result) {
	select {
	case o.results <- result:
	default:
	}
}

const takeHelp = `Commands:
  a-d      choose an option for the current question
  n / p    next / previous question
  g <n>    go to question n
  r        toggle mark for review
  t        show remaining time
  s        submit (asks for confirmation)
  q        quit without submitting (progress is kept)
`

func runTake(ctx context.Context, in io.Reader, out io.Writer, attempts *app.AttemptService, userID, testID string) error {
	w := &lockedWriter{out: out}
	observer := &termObserver{out: w, results: make(chan domain.Result, 1)}

	attempt, err := attempts.Start(ctx, userID, testID, observer)
	if err != nil {
		return err
	}
	defer attempt.Close()

	view := attempt.View()
	w.printf("%s: %d questions, %s\n", view.Title, view.Total, view.RemainingHM)
	if attempt.Resumed() {
		w.printf("Resuming your saved attempt (%d answered).\n", view.Answered)
	}
	w.printf("%s", takeHelp)
	printQuestion(w, view)

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-done:
				return
			}
		}
	}()

	confirming := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case result := <-observer.results:
			printResult(w, result)
			return nil
		case line, ok := <-lines:
			if !ok {
				w.printf("\nInput closed, your progress is saved.\n")
				return nil
			}
			if confirming {
				confirming = false
				if confirmSubmit(ctx, w, attempt, observer.results, line) {
					return nil
				}
				continue
			}
			quit, confirm := handleTakeCommand(ctx, w, attempt, line)
			if quit {
				w.printf("Progress saved. Come back to resume.\n")
				return nil
			}
			confirming = confirm
		}
	}
}

// confirmSubmit answers the submit prompt and reports whether the attempt is over.
func confirmSubmit(ctx context.Context, w *lockedWriter, attempt *app.Attempt, results <-chan domain.Result, line string) bool {
	if !strings.EqualFold(line, "y") {
		w.printf("Submission cancelled.\n")
		return false
	}
	_, err := attempt.Submit(ctx)
	switch {
	case errors.Is(err, domain.ErrResultNotSaved):
		w.printf("Your result could not be saved yet; it will be retried.\n")
	case errors.Is(err, domain.ErrAttemptSubmitted):
	case err != nil:
		w.printf("Submit failed: %v\n", err)
		return false
	}
	// navigation is delivered before Submit returns
	select {
	case result := <-results:
		printResult(w, result)
		return true
	default:
		w.printf("This attempt was already submitted.\n")
		return true
	}
}

// handleTakeCommand applies one input line and reports whether to quit or ask for
// submit confirmation.
func handleTakeCommand(ctx context.Context, w *lockedWriter, attempt *app.Attempt, line string) (quit, confirm bool) {
	cmd := strings.ToLower(line)
	current := attempt.View().Current
	switch {
	case cmd == "":
	case len(cmd) == 1 && cmd[0] >= 'a' && cmd[0] <= 'd':
		if err := attempt.SelectOption(ctx, current, int(cmd[0]-'a')); err != nil {
			w.printf("Could not save answer: %v\n", err)
			return false, false
		}
		printQuestion(w, attempt.View())
	case cmd == "n":
		attempt.Next()
		printQuestion(w, attempt.View())
	case cmd == "p":
		attempt.Prev()
		printQuestion(w, attempt.View())
	case strings.HasPrefix(cmd, "g"):
		n, err := strconv.Atoi(strings.TrimSpace(cmd[1:]))
		if err != nil || attempt.GoTo(n-1) != nil {
			w.printf("No such question.\n")
			return false, false
		}
		printQuestion(w, attempt.View())
	case cmd == "r":
		if _, err := attempt.ToggleReview(ctx, current); err != nil {
			w.printf("Could not update review flag: %v\n", err)
			return false, false
		}
		printQuestion(w, attempt.View())
	case cmd == "t":
		w.printf("%s left\n", app.FormatDuration(attempt.Remaining()))
	case cmd == "s":
		view := attempt.View()
		w.printf("Submit with %d of %d answered? (y/n) ", view.Answered, view.Total)
		return false, true
	case cmd == "q":
		return true, false
	default:
		w.printf("%s", takeHelp)
	}
	return false, false
}

var paletteSymbols = map[app.PaletteStatus]string{
	app.PaletteUnvisited:      " ",
	app.PaletteVisited:        "-",
	app.PaletteAnswered:       "*",
	app.PaletteMarked:         "?",
	app.PaletteAnsweredMarked: "!",
}

func printQuestion(w *lockedWriter, view app.AttemptView) {
	var b strings.Builder
	fmt.Fprintf(&b, "\nQ%d/%d  (%d/%d answered, %s left)\n", view.Current+1, view.Total, view.Answered, view.Total, view.RemainingHM)
	if view.Marked[view.Current] {
		b.WriteString("[marked for review]\n")
	}
	fmt.Fprintf(&b, "%s\n\n", view.Question.Text)
	for i, opt := range view.Question.Options {
		marker := " "
		if a := view.Answers[view.Current]; a != nil && *a == i {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s %c. %s\n", marker, domain.OptionLetters[i], opt)
	}
	b.WriteString("\n")
	for _, p := range view.Palette {
		left, right := "[", "]"
		if p.Current {
			left, right = "<", ">"
		}
		fmt.Fprintf(&b, "%s%d%s%s ", left, p.Index+1, paletteSymbols[p.Status], right)
	}
	b.WriteString("\n> ")
	w.printf("%s", b.String())
}

func printResult(w *lockedWriter, r domain.Result) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s: %d correct, %d incorrect, %d unanswered\n", r.TestTitle, r.Score.Correct, r.Score.Incorrect, r.Score.Unanswered)
	fmt.Fprintf(&b, "Marks: %.2f  Score: %.1f%%  Time: %s\n", r.Score.TotalMarks, r.Percentage, app.FormatDuration(r.TimeTaken))
	for i, correct := range r.CorrectAnswers {
		answer := "-"
		if a := r.Answers[i]; a != nil {
			answer = string(domain.OptionLetters[*a])
		}
		key := "?"
		if correct >= 0 && correct < len(domain.OptionLetters) {
			key = string(domain.OptionLetters[correct])
		}
		fmt.Fprintf(&b, "  Q%d: yours %s, correct %s\n", i+1, answer, key)
	}
	w.printf("%s", b.String())
}
