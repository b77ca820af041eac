// cmd/client/cmd/init.go
package cmd

import (
	"studysync/cmd/client/cmd/auth"
	"studysync/cmd/client/cmd/data"
	"studysync/cmd/client/cmd/lesson"
	"studysync/cmd/client/cmd/profile"
	"studysync/cmd/client/cmd/progress"
	"studysync/cmd/client/cmd/queue"
	"studysync/cmd/client/cmd/quiz"
	"studysync/cmd/client/cmd/sync"
)

func init() {
	rootCmd.AddCommand(auth.AuthCmd)
	auth.AuthCmd.AddCommand(auth.SetTokenCmd)

	rootCmd.AddCommand(lesson.LessonCmd)
	lesson.LessonCmd.AddCommand(lesson.StartCmd)
	lesson.LessonCmd.AddCommand(lesson.CompleteCmd)
	lesson.LessonCmd.AddCommand(lesson.TimeCmd)

	rootCmd.AddCommand(quiz.QuizCmd)
	quiz.QuizCmd.AddCommand(quiz.SubmitCmd)
	quiz.QuizCmd.AddCommand(quiz.AttemptsCmd)

	rootCmd.AddCommand(profile.ProfileCmd)
	profile.ProfileCmd.AddCommand(profile.ShowCmd)
	profile.ProfileCmd.AddCommand(profile.UpdateCmd)

	rootCmd.AddCommand(data.DataCmd)
	data.DataCmd.AddCommand(data.PutCmd)
	data.DataCmd.AddCommand(data.GetCmd)
	data.DataCmd.AddCommand(data.ListCmd)

	rootCmd.AddCommand(progress.ProgressCmd)
	progress.ProgressCmd.AddCommand(progress.ShowCmd)

	rootCmd.AddCommand(sync.SyncCmd)
	sync.SyncCmd.AddCommand(sync.ResolveCmd)

	rootCmd.AddCommand(queue.QueueCmd)
	queue.QueueCmd.AddCommand(queue.ListCmd)
	queue.QueueCmd.AddCommand(queue.RetryCmd)
	queue.QueueCmd.AddCommand(queue.DeleteCmd)

	rootCmd.AddCommand(runCmd)
}
