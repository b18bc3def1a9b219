package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// LocalUserID fiber Locals key of the authenticated user id.
const LocalUserID = "userID"

// AuthMiddleware 사용자 식별 미들웨어. With a JWT manager the token is read
// from the Authorization header, the access_token cookie or the token query
// parameter (browsers cannot set headers on a websocket upgrade). Without
// one, identity is delegated to the caller and the userId query parameter
// is trusted.
func AuthMiddleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if jwtManager == nil {
			userID := c.Query("userId")
			if userID == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "missing userId",
				})
			}
			c.Locals(LocalUserID, userID)
			return c.Next()
		}

		token, err := extractToken(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		// 토큰 검증
		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		// 사용자 정보를 컨텍스트에 저장
		c.Locals(LocalUserID, claims.UserID())
		c.Locals("nickname", claims.Nickname)
		c.Locals("claims", claims)

		return c.Next()
	}
}

func extractToken(c *fiber.Ctx) (string, error) {
	if header := c.Get("Authorization"); header != "" {
		// Bearer 토큰 파싱
		parts := strings.Split(header, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return "", errors.New("invalid authorization header format")
		}
		return parts[1], nil
	}
	if token := c.Cookies("access_token"); token != "" {
		return token, nil
	}
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", errors.New("missing authorization token")
}

// UserID 컨텍스트에 저장된 사용자 ID
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}
