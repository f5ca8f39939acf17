package dap_debugger

import (
	"path/filepath"
	"sort"

	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/fansqz/go-debug-mediator/debugger"
)

const sessionName = "go-debug-mediator"

// launchArgBuilder 各语言适配器的 launch 参数
type launchArgBuilder func(file string, option *debugger.StartOption) map[string]interface{}

var launchArgBuilders = map[constants.AdapterType]launchArgBuilder{
	constants.AdapterPython: func(file string, option *debugger.StartOption) map[string]interface{} {
		return map[string]interface{}{
			"type":       "python",
			"program":    file,
			"console":    "internalConsole",
			"justMyCode": true,
		}
	},
	constants.AdapterNode: func(file string, option *debugger.StartOption) map[string]interface{} {
		return map[string]interface{}{
			"type":    "pwa-node",
			"program": file,
		}
	},
	constants.AdapterGo: func(file string, option *debugger.StartOption) map[string]interface{} {
		return map[string]interface{}{
			"mode":    "debug",
			"program": file,
		}
	},
	constants.AdapterLLDB: func(file string, option *debugger.StartOption) map[string]interface{} {
		args := map[string]interface{}{
			"program": file,
		}
		// lldb-dap 的环境变量是 KEY=VALUE 列表
		if len(option.Env) != 0 {
			args["env"] = envList(option.Env)
		}
		return args
	},
}

// buildLaunchArgs 组装 launch 请求的参数，未知语言只携带通用字段
func buildLaunchArgs(t constants.AdapterType, file string, option *debugger.StartOption) map[string]interface{} {
	var args map[string]interface{}
	if builder, ok := launchArgBuilders[t]; ok {
		args = builder(file, option)
	} else {
		args = map[string]interface{}{"program": file}
	}
	args["name"] = sessionName
	args["request"] = string(constants.LaunchRequest)
	args["stopOnEntry"] = option.StopOnEntry
	if len(option.Args) != 0 {
		args["args"] = option.Args
	}
	cwd := option.Cwd
	if cwd == "" {
		cwd = filepath.Dir(file)
	}
	args["cwd"] = cwd
	if _, ok := args["env"]; !ok && len(option.Env) != 0 {
		args["env"] = option.Env
	}
	return args
}

func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

// attachPayload 按 AttachStyle 编码 host/port 与路径映射
type attachPayload func(option *debugger.AttachOption) map[string]interface{}

var attachPayloads = map[constants.AttachStyle]attachPayload{
	constants.AttachTopLevel: func(option *debugger.AttachOption) map[string]interface{} {
		args := map[string]interface{}{
			"host": option.Host,
			"port": option.Port,
		}
		if len(option.PathMappings) != 0 {
			args["pathMappings"] = option.PathMappings
		}
		return args
	},
	constants.AttachConnect: func(option *debugger.AttachOption) map[string]interface{} {
		args := map[string]interface{}{
			"connect": map[string]interface{}{
				"host": option.Host,
				"port": option.Port,
			},
		}
		if len(option.PathMappings) != 0 {
			args["pathMappings"] = option.PathMappings
		}
		return args
	},
	constants.AttachAddress: func(option *debugger.AttachOption) map[string]interface{} {
		args := map[string]interface{}{
			"address": option.Host,
			"port":    option.Port,
		}
		// js-debug 只支持一组映射
		if len(option.PathMappings) != 0 {
			args["localRoot"] = option.PathMappings[0].LocalRoot
			args["remoteRoot"] = option.PathMappings[0].RemoteRoot
		}
		return args
	},
}

// attachTypeFields 各语言 attach 请求中与 host/port 无关的字段
var attachTypeFields = map[constants.AdapterType]map[string]interface{}{
	constants.AdapterPython: {"type": "python", "justMyCode": true},
	constants.AdapterNode:   {"type": "pwa-node"},
	constants.AdapterGo:     {"mode": "remote"},
}

// defaultAttachStyles 配置中没有指定 attach_style 时使用
var defaultAttachStyles = map[constants.AdapterType]constants.AttachStyle{
	constants.AdapterPython: constants.AttachConnect,
	constants.AdapterNode:   constants.AttachAddress,
	constants.AdapterGo:     constants.AttachTopLevel,
	constants.AdapterLLDB:   constants.AttachTopLevel,
}

// buildAttachArgs 组装 attach 请求的参数
func buildAttachArgs(t constants.AdapterType, style constants.AttachStyle, option *debugger.AttachOption) map[string]interface{} {
	if style == "" {
		style = defaultAttachStyles[t]
	}
	payload, ok := attachPayloads[style]
	if !ok {
		payload = attachPayloads[constants.AttachTopLevel]
	}
	args := payload(option)
	for k, v := range attachTypeFields[t] {
		args[k] = v
	}
	args["name"] = sessionName
	args["request"] = string(constants.AttachRequest)
	return args
}
