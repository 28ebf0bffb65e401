package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/scusemua/training-queue/common/storage"
	"github.com/scusemua/training-queue/common/types"
	"github.com/scusemua/training-queue/common/utils"
)

var (
	taskTableHeaders = []string{"#", "TASK ID", "STATE", "PID", "HOST", "GPUS", "CREATED", "STARTED", "COMPLETED"}
)

// renderQueues writes one table per queue, in the given order.
func renderQueues(out io.Writer, names []storage.QueueName, snapshot map[storage.QueueName][]*types.Task) {
	for _, name := range names {
		tasks := snapshot[name]

		_, _ = fmt.Fprintln(out, utils.BoldStyle.Render(fmt.Sprintf("%s queue (%d)", name, len(tasks))))
		if len(tasks) == 0 {
			_, _ = fmt.Fprintln(out, utils.GrayStyle.Render("  empty"))
			continue
		}

		_, _ = fmt.Fprintln(out, taskTable(tasks))
	}
}

func taskTable(tasks []*types.Task) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(utils.GrayStyle).
		Headers(taskTableHeaders...)

	for i, task := range tasks {
		t.Row(taskRow(i, task)...)
	}

	return t.String()
}

func taskRow(position int, task *types.Task) []string {
	return []string{
		strconv.Itoa(position),
		task.TaskID,
		task.State.String(),
		strconv.Itoa(int(task.SystemPID)),
		task.Hostname,
		task.GPUString(),
		task.CreateTime.Format(types.TimeLayout),
		formatOptionalTime(task.RunTime),
		formatOptionalTime(task.CompletedTime),
	}
}

func formatOptionalTime(ts *time.Time) string {
	if ts == nil {
		return "-"
	}

	return ts.Format(types.TimeLayout)
}
