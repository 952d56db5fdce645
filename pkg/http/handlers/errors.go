package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/oarkflow/anchor/pkg/http/responses"
	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/utils"
)

// ErrorOptions describe an error page. The page has exactly one button,
// labelled PrimaryButton, leading to RetryURL.
type ErrorOptions struct {
	Title         string
	Message       string
	Description   string
	Detail        string
	PrimaryButton string
	RetryURL      string
}

func renderErrorPage(c *fiber.Ctx, statusCode int, opts ErrorOptions) error {
	return responses.ErrorPage(c, statusCode, models.ErrorPageData{
		Title:       opts.Title,
		Message:     opts.Message,
		Description: opts.Description,
		Technical:   opts.Detail,
		ButtonLabel: opts.PrimaryButton,
		RetryURL:    opts.RetryURL,
	})
}

// unexpectedError sends the browser back to the landing page instead of
// offering a retry of the step that failed.
func unexpectedError(c *fiber.Ctx, err error) error {
	return renderErrorPage(c, fiber.StatusInternalServerError, ErrorOptions{
		Title:         "Something went wrong",
		Message:       "An unexpected error occurred. Please try again",
		Detail:        err.Error(),
		PrimaryButton: "Try again",
		RetryURL:      utils.LandingURI,
	})
}

func authenticateError(c *fiber.Ctx, err error, retryURL string) error {
	return renderErrorPage(c, fiber.StatusBadRequest, ErrorOptions{
		Title:         "Failed to authenticate",
		Message:       "We failed to collect the necessary information from your security device.",
		Detail:        err.Error(),
		PrimaryButton: "Try again",
		RetryURL:      retryURL,
	})
}

func flowNotFound(c *fiber.Ctx) error {
	return renderErrorPage(c, fiber.StatusNotFound, ErrorOptions{
		Title:         "Page expired",
		Message:       "This flow has ended or never existed.",
		PrimaryButton: "Ok",
		RetryURL:      utils.LandingURI,
	})
}
