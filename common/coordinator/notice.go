package coordinator

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/scusemua/training-queue/common/utils"
)

const (
	NoticeInfo NoticeKind = iota
	NoticeSuccess
	NoticeWaiting
	NoticeWarning
)

// NoticeKind classifies a user-visible notice.
type NoticeKind int

func (k NoticeKind) style() lipgloss.Style {
	switch k {
	case NoticeSuccess:
		return utils.GreenStyle
	case NoticeWaiting:
		return utils.YellowStyle
	case NoticeWarning:
		return utils.OrangeStyle
	default:
		return utils.LightBlueStyle
	}
}

// Notifier renders human-readable notices about a task's progress through the queues.
// Notices are informational only.
type Notifier struct {
	out io.Writer
}

// NewNotifier creates a Notifier that writes to out. A nil out discards every notice.
func NewNotifier(out io.Writer) *Notifier {
	if out == nil {
		out = io.Discard
	}

	return &Notifier{out: out}
}

func (n *Notifier) Notify(kind NoticeKind, format string, args ...interface{}) {
	_, _ = fmt.Fprintln(n.out, kind.style().Render(fmt.Sprintf(format, args...)))
}

// Tip renders a framed, one-off hint.
func (n *Notifier) Tip(format string, args ...interface{}) {
	_, _ = fmt.Fprintln(n.out, utils.NoticeBoxStyle.Render(utils.GrayStyle.Render(fmt.Sprintf(format, args...))))
}
