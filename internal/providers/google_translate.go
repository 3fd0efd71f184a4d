package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "aiproxy-go/internal/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// googleParam maps one canonical request parameter into generationConfig.
// A nil convert marks a parameter handled elsewhere or deliberately dropped.
type googleParam struct {
	target  string
	convert func(gjson.Result) interface{}
}

func passValue(v gjson.Result) interface{} { return v.Value() }

func intValue(v gjson.Result) interface{} { return v.Int() }

var googleParams = map[string]googleParam{
	// 结构性字段, 单独处理
	"model":           {},
	"messages":        {},
	"stream":          {},
	"tools":           {},
	"tool_choice":     {},
	"response_format": {},

	"temperature":           {target: "temperature", convert: passValue},
	"top_p":                 {target: "topP", convert: passValue},
	"top_k":                 {target: "topK", convert: intValue},
	"max_tokens":            {target: "maxOutputTokens", convert: intValue},
	"max_completion_tokens": {target: "maxOutputTokens", convert: intValue},
	"n":                     {target: "candidateCount", convert: intValue},
	"frequency_penalty":     {target: "frequencyPenalty", convert: passValue},
	"presence_penalty":      {target: "presencePenalty", convert: passValue},
	"seed":                  {target: "seed", convert: intValue},
	"stop":                  {target: "stopSequences", convert: stopValue},
	"reasoning_effort":      {target: "thinkingConfig", convert: thinkingValue},

	// 已知但 Google 不支持, 静默丢弃
	"stream_options":      {},
	"logprobs":            {},
	"top_logprobs":        {},
	"logit_bias":          {},
	"user":                {},
	"parallel_tool_calls": {},
	"service_tier":        {},
	"store":               {},
	"metadata":            {},
	"functions":           {},
	"function_call":       {},
	"modalities":          {},
	"prediction":          {},
}

func stopValue(v gjson.Result) interface{} {
	if v.IsArray() {
		var out []string
		for _, s := range v.Array() {
			out = append(out, s.String())
		}
		return out
	}
	return []string{v.String()}
}

func thinkingValue(v gjson.Result) interface{} {
	cfg := map[string]interface{}{"includeThoughts": true}
	switch strings.ToLower(v.String()) {
	case "none":
		return map[string]interface{}{"thinkingBudget": 0}
	case "minimal", "low":
		cfg["thinkingBudget"] = 1024
	case "medium":
		cfg["thinkingBudget"] = 8192
	case "high":
		cfg["thinkingBudget"] = 24576
	default:
		cfg["thinkingBudget"] = -1
	}
	return cfg
}

// toGoogle converts a canonical chat request into a GenerateContent body.
func toGoogle(rawJSON []byte) ([]byte, error) {
	if !gjson.ValidBytes(rawJSON) {
		return nil, apperrors.BadRequest("invalid request body")
	}
	out := `{"contents":[]}`

	genConfig := map[string]interface{}{}
	gjson.ParseBytes(rawJSON).ForEach(func(key, value gjson.Result) bool {
		p, known := googleParams[key.String()]
		if !known {
			log.WithField("param", key.String()).Debug("google: dropping unsupported parameter")
			return true
		}
		if p.convert != nil && value.Type != gjson.Null {
			genConfig[p.target] = p.convert(value)
		}
		return true
	})

	contents, system, err := googleContents(rawJSON)
	if err != nil {
		return nil, err
	}
	contentsJSON, _ := json.Marshal(contents)
	out, _ = sjson.SetRaw(out, "contents", string(contentsJSON))
	if len(system) > 0 {
		sysJSON, _ := json.Marshal(map[string]interface{}{"parts": system})
		out, _ = sjson.SetRaw(out, "systemInstruction", string(sysJSON))
	}

	if rf := gjson.GetBytes(rawJSON, "response_format"); rf.Exists() {
		switch rf.Get("type").String() {
		case "json_object":
			genConfig["responseMimeType"] = "application/json"
		case "json_schema":
			genConfig["responseMimeType"] = "application/json"
			if s := rf.Get("json_schema.schema"); s.IsObject() {
				genConfig["responseSchema"] = googleSchema(s.Value().(map[string]interface{}))
			}
		}
	}
	if len(genConfig) > 0 {
		cfgJSON, _ := json.Marshal(genConfig)
		out, _ = sjson.SetRaw(out, "generationConfig", string(cfgJSON))
	}

	out = applyGoogleTools(out, rawJSON)
	return []byte(out), nil
}

func googleContents(rawJSON []byte) ([]interface{}, []interface{}, error) {
	var contents, system []interface{}
	// tool_call_id -> function name, tool results must carry the name
	callNames := map[string]string{}

	appendTurn := func(role string, parts []interface{}) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 {
			last := contents[n-1].(map[string]interface{})
			if last["role"] == role {
				last["parts"] = append(last["parts"].([]interface{}), parts...)
				return
			}
		}
		contents = append(contents, map[string]interface{}{"role": role, "parts": parts})
	}

	for _, msg := range gjson.GetBytes(rawJSON, "messages").Array() {
		role := msg.Get("role").String()
		content := msg.Get("content")
		switch role {
		case "system", "developer":
			system = append(system, googleParts(content)...)
		case "user":
			appendTurn("user", googleParts(content))
		case "assistant":
			var parts []interface{}
			if content.Exists() && content.Type != gjson.Null {
				parts = append(parts, googleParts(content)...)
			}
			for _, tc := range msg.Get("tool_calls").Array() {
				name := tc.Get("function.name").String()
				callNames[tc.Get("id").String()] = name
				var args interface{} = map[string]interface{}{}
				if a := tc.Get("function.arguments").String(); a != "" {
					if err := json.Unmarshal([]byte(a), &args); err != nil {
						return nil, nil, apperrors.BadRequest(fmt.Sprintf("tool call %s has invalid arguments", name))
					}
				}
				parts = append(parts, map[string]interface{}{
					"functionCall": map[string]interface{}{"name": name, "args": args},
				})
			}
			appendTurn("model", parts)
		case "tool":
			id := msg.Get("tool_call_id").String()
			name := msg.Get("name").String()
			if name == "" {
				name = callNames[id]
			}
			text := content.String()
			var response interface{}
			if err := json.Unmarshal([]byte(text), &response); err != nil {
				response = map[string]interface{}{"result": text}
			}
			if _, isObj := response.(map[string]interface{}); !isObj {
				response = map[string]interface{}{"result": response}
			}
			appendTurn("user", []interface{}{map[string]interface{}{
				"functionResponse": map[string]interface{}{"name": name, "response": response},
			}})
		default:
			return nil, nil, apperrors.BadRequest(fmt.Sprintf("unsupported message role %q", role))
		}
	}
	return contents, system, nil
}

// googleParts converts string or multi-part content.
func googleParts(content gjson.Result) []interface{} {
	if !content.IsArray() {
		if content.String() == "" {
			return nil
		}
		return []interface{}{map[string]interface{}{"text": content.String()}}
	}
	var parts []interface{}
	for _, part := range content.Array() {
		switch part.Get("type").String() {
		case "text":
			parts = append(parts, map[string]interface{}{"text": part.Get("text").String()})
		case "image_url":
			u := part.Get("image_url.url").String()
			if mediaType, data, ok := parseDataURL(u); ok {
				parts = append(parts, map[string]interface{}{
					"inlineData": map[string]interface{}{"mimeType": mediaType, "data": data},
				})
				continue
			}
			parts = append(parts, map[string]interface{}{
				"fileData": map[string]interface{}{"fileUri": u, "mimeType": guessImageMIME(u)},
			})
		}
	}
	return parts
}

func guessImageMIME(u string) string {
	lower := strings.ToLower(u)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

func applyGoogleTools(out string, rawJSON []byte) string {
	var decls []interface{}
	for _, tool := range gjson.GetBytes(rawJSON, "tools").Array() {
		if tool.Get("type").String() != "function" {
			continue
		}
		fn := tool.Get("function")
		decl := map[string]interface{}{
			"name":        fn.Get("name").String(),
			"description": fn.Get("description").String(),
		}
		if params := fn.Get("parameters"); params.IsObject() {
			if s := googleSchema(params.Value().(map[string]interface{})); len(s) > 0 {
				decl["parameters"] = s
			}
		}
		decls = append(decls, decl)
	}
	if len(decls) == 0 {
		return out
	}
	toolsJSON, _ := json.Marshal([]interface{}{map[string]interface{}{"functionDeclarations": decls}})
	out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))

	tc := gjson.GetBytes(rawJSON, "tool_choice")
	switch {
	case tc.Type == gjson.String:
		mode := map[string]string{"auto": "AUTO", "required": "ANY", "none": "NONE"}[tc.String()]
		if mode != "" {
			out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", mode)
		}
	case tc.Get("function.name").Exists():
		out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "ANY")
		out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.allowedFunctionNames", []string{tc.Get("function.name").String()})
	}
	return out
}
