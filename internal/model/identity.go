// Package model はドメインモデルを定義する。
package model

import (
	"regexp"
	"strings"
	"time"
)

// Role は識別情報（Identity）の役割を表す。
type Role string

const (
	// RolePatient は患者を表す。
	RolePatient Role = "patient"
	// RoleClinician は医師を表す。
	RoleClinician Role = "clinician"
)

// Valid は定義済みのロールかどうかを返す。
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleClinician
}

// ValidKeyPattern は識別キー（国民ID）の形状を表す正規表現。
// 空でない数字のみの文字列を有効とする。
// Goのregexpとグラフストア側の正規表現の両方で同じ意味になる書式に限定している。
const ValidKeyPattern = `^[0-9]+$`

var validKeyRe = regexp.MustCompile(ValidKeyPattern)

// IsValidKey は識別キーが数字のみの非空文字列かを判定する。
func IsValidKey(key string) bool {
	return validKeyRe.MatchString(key)
}

// HistoryEntry は診療履歴の1件を表す。
type HistoryEntry struct {
	Date      string // YYYY-MM-DD
	Diagnosis string
	Treatment string
}

// Identity は患者または医師の人物レコードを表す。
// 自然キー（Key）で一意に識別され、診療履歴は追記のみ行われる。
type Identity struct {
	Key          string
	Role         Role
	FirstName    string
	LastName     string
	BirthDate    string
	Email        string
	Phone        string
	Sex          string
	PasswordHash string
	History      []HistoryEntry
	CreatedAt    time.Time
}

// DisplayName は表示用の氏名を返す。
func (i *Identity) DisplayName() string {
	return strings.TrimSpace(i.FirstName + " " + i.LastName)
}

// GraphNode はリレーションストアに保存する人物ノードの表示属性。
type GraphNode struct {
	Key       string
	Role      Role
	FirstName string
	LastName  string
}

// NodeFromIdentity はIdentityからグラフノードの表示属性を組み立てる。
func NodeFromIdentity(i *Identity) GraphNode {
	return GraphNode{
		Key:       i.Key,
		Role:      i.Role,
		FirstName: i.FirstName,
		LastName:  i.LastName,
	}
}

// FollowedIdentity は医師がフォローしている患者の一覧要素。
type FollowedIdentity struct {
	Key         string
	DisplayName string
}

// FollowEdge は医師から患者へのフォローエッジ1本を表す。
type FollowEdge struct {
	ClinicianKey  string `json:"clinician_key"`
	ClinicianName string `json:"clinician_name"`
	PatientKey    string `json:"patient_key"`
	PatientName   string `json:"patient_name"`
}

// NodeDescriptor は形状不正なノードの監査結果を表す。
type NodeDescriptor struct {
	NodeID    string
	Key       string
	FirstName string
	LastName  string
}
