package db

// New exposes wrap to the external test package for sqlmock handles.
var New = wrap
