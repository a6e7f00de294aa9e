package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/vidasana/internal/model"
)

// IdentityLookup は呼び出し元の役割を確認するためのインターフェース。
type IdentityLookup interface {
	Get(ctx context.Context, key string) (*model.Identity, error)
}

// accessGuard は患者単位のリソースへのアクセスを本人と医師に限定する。
type accessGuard struct {
	identities IdentityLookup
}

// allow は呼び出し元が対象キー本人か医師であることを確認する。
// 拒否した場合はレスポンスを書き込み、falseを返す。
func (g accessGuard) allow(w http.ResponseWriter, r *http.Request, target string) bool {
	caller, ok := callerKey(w, r)
	if !ok {
		return false
	}
	if caller == target {
		return true
	}

	who, err := g.identities.Get(r.Context(), caller)
	if err != nil {
		if model.IsCategory(err, model.CategoryNotFound) {
			writeForbidden(w)
			return false
		}
		handleServiceError(w, err)
		return false
	}
	if who.Role != model.RoleClinician {
		writeForbidden(w)
		return false
	}
	return true
}
