package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden          ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly  ErrCode = "STUDENT_ACCESS_ONLY"
	ErrProfessorAccess    ErrCode = "PROFESSOR_ACCESS_ONLY"
	ErrNotRoomOwner       ErrCode = "NOT_ROOM_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Room / session ────────────────────────────────────────────────
	ErrPreconditionFailed ErrCode = "PRECONDITION_FAILED"
	ErrInvalidState       ErrCode = "INVALID_STATE"
	ErrExpelled           ErrCode = "EXPELLED"
	ErrDecodeFailed       ErrCode = "DECODE_ERROR"

	// ─── External service ──────────────────────────────────────────────
	ErrExternalService ErrCode = "EXTERNAL_SERVICE_ERROR"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "E-mail ou senha incorretos."
	case ErrTokenRequired:
		return "Token de autenticação obrigatório."
	case ErrTokenInvalid:
		return "Token de autenticação inválido."
	case ErrTokenExpired:
		return "Token de autenticação expirado."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Você não tem permissão para acessar este recurso."
	case ErrStudentAccessOnly:
		return "Este recurso é restrito a alunos."
	case ErrProfessorAccess:
		return "Este recurso é restrito a professores."
	case ErrNotRoomOwner:
		return "Você não é o professor responsável por esta sala."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Falha na validação. Verifique os dados informados."
	case ErrInvalidID:
		return "Formato de ID inválido."
	case ErrInvalidPayload:
		return "Corpo da requisição inválido."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Recurso não encontrado."
	case ErrConflict:
		return "Recurso já existe."

	// ─── Room / session ────────────────────────────────────────────────
	case ErrPreconditionFailed:
		return "A operação não pode ser realizada no estado atual da sala."
	case ErrInvalidState:
		return "Transição de estado não permitida."
	case ErrExpelled:
		return "Você foi expulso desta sala. Aguarde o professor liberar seu acesso."
	case ErrDecodeFailed:
		return "Não foi possível decodificar o conteúdo da prova."

	// ─── External service ──────────────────────────────────────────────
	case ErrExternalService:
		return "O serviço de IA está indisponível. Tente novamente."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Ocorreu um erro interno no servidor."
	default:
		return "Ocorreu um erro inesperado."
	}
}
