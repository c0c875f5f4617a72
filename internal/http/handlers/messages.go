package handlers

// User-visible message keys. Messages are localized per the request locale;
// internal error detail never reaches these strings.
const (
	msgUnauthorized  = "unauthorized"
	msgBadPayload    = "bad_payload"
	msgPromptMissing = "prompt_missing"
	msgUnknownKind   = "unknown_kind"
	msgNotFound      = "not_found"
	msgAlreadyDone   = "already_done"
	msgCancelled     = "cancelled"
	msgNotResumable  = "not_resumable"
	msgInternal      = "internal"
)

var messages = map[string]map[string]string{
	"en": {
		msgUnauthorized:  "Missing account identity.",
		msgBadPayload:    "The request payload could not be parsed.",
		msgPromptMissing: "An edit prompt is required.",
		msgUnknownKind:   "Unsupported work item kind.",
		msgNotFound:      "Not found.",
		msgAlreadyDone:   "The item has already finished and cannot be cancelled.",
		msgCancelled:     "Cancelled by user.",
		msgNotResumable:  "Only a paused run can be resumed.",
		msgInternal:      "Something went wrong. Please try again.",
	},
	"id": {
		msgUnauthorized:  "Identitas akun tidak ditemukan.",
		msgBadPayload:    "Isi permintaan tidak dapat dibaca.",
		msgPromptMissing: "Instruksi edit wajib diisi.",
		msgUnknownKind:   "Jenis pekerjaan tidak didukung.",
		msgNotFound:      "Tidak ditemukan.",
		msgAlreadyDone:   "Pekerjaan sudah selesai dan tidak bisa dibatalkan.",
		msgCancelled:     "Dibatalkan oleh pengguna.",
		msgNotResumable:  "Hanya proses yang dijeda yang bisa dilanjutkan.",
		msgInternal:      "Terjadi kesalahan. Silakan coba lagi.",
	},
}

func localize(locale, key string) string {
	if byLocale, ok := messages[locale]; ok {
		if msg, ok := byLocale[key]; ok {
			return msg
		}
	}
	if msg, ok := messages["en"][key]; ok {
		return msg
	}
	return key
}
