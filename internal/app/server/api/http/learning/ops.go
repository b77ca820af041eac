package learning

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

var bearer = []map[string][]string{{"bearer": {}}}

func (h *Handler) submitAttemptOp() huma.Operation {
	return huma.Operation{
		OperationID: "quiz-attempts-submit",
		Method:      http.MethodPost,
		Path:        "/api/v1/courses/{courseId}/quizzes/{quizId}/attempts",
		Summary:     "Отправить попытку прохождения теста",
		Description: "Попытка, совпадающая с сохраненной в окне дубликатов, не создается повторно; возвращается сохраненная с duplicate=true.",
		Tags:        []string{"quizzes"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}

func (h *Handler) listAttemptsOp() huma.Operation {
	return huma.Operation{
		OperationID: "quiz-attempts-list",
		Method:      http.MethodGet,
		Path:        "/api/v1/courses/{courseId}/quizzes/{quizId}/attempts",
		Summary:     "Список попыток теста",
		Tags:        []string{"quizzes"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}

func (h *Handler) lessonCompletionOp() huma.Operation {
	return huma.Operation{
		OperationID: "lesson-completion-update",
		Method:      http.MethodPut,
		Path:        "/api/v1/courses/{courseId}/lessons/{lessonId}/completion",
		Summary:     "Отметить прохождение урока",
		Tags:        []string{"progress"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}

func (h *Handler) courseProgressOp() huma.Operation {
	return huma.Operation{
		OperationID: "course-progress-update",
		Method:      http.MethodPut,
		Path:        "/api/v1/courses/{courseId}/progress",
		Summary:     "Объединить прогресс курса",
		Description: "Пройденные уроки объединяются, время и процент берутся максимальные. Возвращает итоговый прогресс сервера.",
		Tags:        []string{"progress"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}

func (h *Handler) getProfileOp() huma.Operation {
	return huma.Operation{
		OperationID: "profile-get",
		Method:      http.MethodGet,
		Path:        "/api/v1/profile",
		Summary:     "Профиль пользователя",
		Tags:        []string{"profile"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}

func (h *Handler) updateProfileOp() huma.Operation {
	return huma.Operation{
		OperationID: "profile-update",
		Method:      http.MethodPatch,
		Path:        "/api/v1/profile",
		Summary:     "Изменить поля профиля",
		Description: "409, если поле изменилось на сервере после значения base.",
		Tags:        []string{"profile"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}

func (h *Handler) getUserDataOp() huma.Operation {
	return huma.Operation{
		OperationID: "userdata-get",
		Method:      http.MethodGet,
		Path:        "/api/v1/userdata/{key}",
		Summary:     "Получить пользовательские данные",
		Tags:        []string{"userdata"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}

func (h *Handler) putUserDataOp() huma.Operation {
	return huma.Operation{
		OperationID: "userdata-put",
		Method:      http.MethodPut,
		Path:        "/api/v1/userdata/{key}",
		Summary:     "Записать пользовательские данные",
		Description: "409, если версия на сервере не равна baseVersion.",
		Tags:        []string{"userdata"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}
