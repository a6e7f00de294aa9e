// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/vidasana/internal/middleware"
	"github.com/hitoshi/vidasana/internal/model"
)

// maxBodyBytes はリクエストボディの上限バイト数。
const maxBodyBytes = 64 << 10

// writeJSON はJSONレスポンスを書き込む。
// vをJSONに変換できない場合はステータスを書き込む前にログを出し、500を返す。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("レスポンスのJSON変換に失敗しました",
			slog.Int("status", statusCode),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(append(body, '\n')); err != nil {
		slog.Debug("レスポンスの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。
// 解析に失敗した場合は400レスポンスを書き込み、falseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: model.CategoryValidation,
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// callerKey はセッションミドルウェアが注入した識別キーを返す。
// 取得できない場合は401レスポンスを書き込み、falseを返す。
func callerKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := middleware.IdentityKeyFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     "UNAUTHORIZED",
			Message:  "認証が必要です。",
			Category: "auth",
			Action:   "ログインしてください。",
		})
		return "", false
	}
	return key, true
}

func writeForbidden(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
		Code:     "FORBIDDEN",
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "本人または担当医師のアカウントで操作してください。",
	})
}

// handleServiceError はサービス層から返されたエラーをカテゴリに応じたHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Category == model.CategoryStoreUnavailable {
			slog.Error("store unavailable", slog.String("error", err.Error()))
		}
		middleware.WriteErrorResponse(w, statusForAPIError(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// statusForAPIError はエラーコード固有のステータスを優先し、なければカテゴリから決める。
func statusForAPIError(apiErr *model.APIError) int {
	if apiErr.Code == model.ErrCodeInvalidCredentials {
		return http.StatusUnauthorized
	}
	return middleware.StatusForCategory(apiErr.Category)
}
