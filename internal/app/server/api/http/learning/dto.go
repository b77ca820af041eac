package learning

import (
	"studysync/internal/domain/learning"
)

type submitAttemptInput struct {
	CourseID string `path:"courseId" minLength:"1" doc:"Course identifier"`
	QuizID   string `path:"quizId" minLength:"1" doc:"Quiz identifier"`
	Body     learning.SubmitAttemptRequest
}

type submitAttemptOutput struct {
	Body learning.SubmitAttemptResponse
}

type listAttemptsInput struct {
	CourseID string `path:"courseId" minLength:"1" doc:"Course identifier"`
	QuizID   string `path:"quizId" minLength:"1" doc:"Quiz identifier"`
}

type listAttemptsOutput struct {
	Body learning.AttemptList
}

type lessonCompletionInput struct {
	CourseID string `path:"courseId" minLength:"1"`
	LessonID string `path:"lessonId" minLength:"1"`
	Body     learning.LessonCompletion
}

type statusResponse struct {
	Status string `json:"status" example:"OK"`
}

type statusOutput struct {
	Body statusResponse
}

type courseProgressInput struct {
	CourseID string `path:"courseId" minLength:"1"`
	Body     learning.CourseProgress
}

type courseProgressOutput struct {
	Body learning.CourseProgress
}

type profileOutput struct {
	Body learning.Profile
}

type updateProfileInput struct {
	Body learning.ProfileUpdate
}

type getUserDataInput struct {
	Key string `path:"key" minLength:"1" doc:"User data key"`
}

// putUserDataBody значение принимается как произвольный JSON
type putUserDataBody struct {
	Value       any   `json:"value" doc:"Arbitrary JSON value"`
	BaseVersion int64 `json:"baseVersion" minimum:"0" doc:"Version the client last saw, 0 for a new key"`
}

type putUserDataInput struct {
	Key  string `path:"key" minLength:"1" doc:"User data key"`
	Body putUserDataBody
}

type userDataOutput struct {
	Body learning.UserData
}
