package errors

// QualifiedCode returns the error code in domain.code form
func (e *Error) QualifiedCode() string {
	return string(e.Domain) + "." + string(e.Code)
}

// GetQualifiedCode returns the domain.code of the first *Error in err's
// chain, or an empty string when there is none
func GetQualifiedCode(err error) string {
	var e *Error
	if As(err, &e) {
		return e.QualifiedCode()
	}
	return ""
}
