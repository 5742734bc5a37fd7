package httpapi

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// newValidator создаёт валидатор, который называет поля по json-тегам.
func newValidator() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(jsonFieldName)
	return v
}

// bindJSON разбирает тело запроса и проверяет его. При ошибке пишет 400 и возвращает false.
func bindJSON(c *gin.Context, out interface{}, v *validatorv10.Validate) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid request body")
		return false
	}
	return validate(c, out, v)
}

// bindQuery — то же для параметров строки запроса.
func bindQuery(c *gin.Context, out interface{}, v *validatorv10.Validate) bool {
	if err := c.ShouldBindQuery(out); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid query parameters")
		return false
	}
	return validate(c, out, v)
}

func validate(c *gin.Context, out interface{}, v *validatorv10.Validate) bool {
	err := v.Struct(out)
	if err == nil {
		return true
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
		Message: "validation failed",
		Fields:  validationErrorsToMap(err),
	})
	return false
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		out["error"] = err.Error()
		return out
	}
	for _, fe := range ve {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

func jsonFieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}
