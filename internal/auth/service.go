package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	"ChemResponse-Chain/pkg/logger"
)

// Service 校验请求携带的 Bearer 令牌。没有配置令牌时不做认证。
type Service struct {
	entries []entry
	audit   *slog.Logger
}

type entry struct {
	digest  [sha256.Size]byte
	subject Subject
}

// NewService 根据令牌列表构造服务，令牌只以摘要形式保存在内存中。
func NewService(tokens []Token) (*Service, error) {
	svc := &Service{audit: logger.Audit()}
	seen := make(map[[sha256.Size]byte]struct{}, len(tokens))
	for _, t := range tokens {
		value := strings.TrimSpace(t.Value)
		if value == "" {
			return nil, errors.New("auth token " + t.Name + " is empty")
		}
		digest := sha256.Sum256([]byte(value))
		if _, dup := seen[digest]; dup {
			return nil, errors.New("auth token " + t.Name + " is duplicated")
		}
		seen[digest] = struct{}{}
		svc.entries = append(svc.entries, entry{
			digest:  digest,
			subject: Subject{Name: t.Name, Permissions: append([]string(nil), t.Permissions...)},
		})
	}
	return svc, nil
}

// Enabled 表示是否需要认证。
func (s *Service) Enabled() bool {
	return s != nil && len(s.entries) > 0
}

// AuthenticateRequest 解析 Authorization 头并返回对应的调用方。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return nil, ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var matched *Subject
	for i := range s.entries {
		if subtle.ConstantTimeCompare(digest[:], s.entries[i].digest[:]) == 1 {
			subject := s.entries[i].subject
			subject.Permissions = append([]string(nil), subject.Permissions...)
			matched = &subject
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	return matched, nil
}
