package constants

import "strings"

// AdapterType 调试适配器类型
type AdapterType string

const (
	AdapterPython AdapterType = "python"
	AdapterNode   AdapterType = "node"
	AdapterGo     AdapterType = "go"
	AdapterLLDB   AdapterType = "lldb"
)

// extension2Adapter 根据文件后缀推断调试适配器
var extension2Adapter = map[string]AdapterType{
	".py":  AdapterPython,
	".pyw": AdapterPython,
	".js":  AdapterNode,
	".mjs": AdapterNode,
	".cjs": AdapterNode,
	".ts":  AdapterNode,
	".go":  AdapterGo,
	".c":   AdapterLLDB,
	".cc":  AdapterLLDB,
	".cpp": AdapterLLDB,
	".rs":  AdapterLLDB,
}

// AdapterTypeByExtension returns the adapter registered for a file extension
// (including the leading dot). The lookup is case-insensitive.
func AdapterTypeByExtension(ext string) (AdapterType, bool) {
	t, ok := extension2Adapter[strings.ToLower(ext)]
	return t, ok
}

// AdapterTypes 所有支持的适配器
func AdapterTypes() []AdapterType {
	return []AdapterType{AdapterPython, AdapterNode, AdapterGo, AdapterLLDB}
}
