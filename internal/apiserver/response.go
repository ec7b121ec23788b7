package apiserver

import "github.com/gofiber/fiber/v2"

// RespondSuccess sends a successful response with data.
func RespondSuccess(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// RespondError sends an error response with a custom status code.
func RespondError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

// RespondNotFound sends a 404 Not Found error.
func RespondNotFound(c *fiber.Ctx, resource string) error {
	return RespondError(c, fiber.StatusNotFound, "NOT_FOUND", resource+" not found")
}
