package strategy

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// definitionSchema 约束声明式策略 JSON 的骨架。结构之外的语义
// （引用存在性、重复 ID）由 gjson 遍历补充检查。
const definitionSchema = `{
  "type": "object",
  "required": ["id", "entry"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "indicators": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "kind"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {"type": "string", "enum": ["sma", "ema", "rsi", "atr", "macd"]},
          "period": {"type": "integer", "minimum": 1},
          "fast": {"type": "integer", "minimum": 1},
          "slow": {"type": "integer", "minimum": 1},
          "signal": {"type": "integer", "minimum": 1}
        }
      }
    },
    "entry": {"$ref": "#/$defs/rules"},
    "exit": {"$ref": "#/$defs/rules"}
  },
  "$defs": {
    "rules": {
      "type": "object",
      "required": ["groups"],
      "properties": {
        "groups": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["conditions"],
            "properties": {
              "logic": {"type": "string", "enum": ["and", "or"]},
              "conditions": {
                "type": "array",
                "minItems": 1,
                "items": {
                  "type": "object",
                  "required": ["left", "op", "right"],
                  "properties": {
                    "left": {"$ref": "#/$defs/operand"},
                    "op": {"type": "string", "enum": ["gt", "lt", "eq"]},
                    "right": {"$ref": "#/$defs/operand"}
                  }
                }
              }
            }
          }
        }
      }
    },
    "operand": {
      "type": "object",
      "properties": {
        "ref": {"type": "string", "minLength": 1},
        "value": {"type": "number"}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("definition.json", strings.NewReader(definitionSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("definition.json")
	})
	return schemaCompiled, schemaErr
}

// ValidateDefinitionJSON 对外部提交的策略定义 JSON 做结构校验。
// schema 之后再用 gjson 查重复指标 ID，给出比 schema 报错更直白的信息。
func ValidateDefinitionJSON(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return configErrf("definition json is empty")
	}
	if !gjson.Valid(raw) {
		return configErrf("definition json is malformed")
	}

	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return configErrf("definition json: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return configErrf("definition schema: %v", err)
	}

	seen := map[string]bool{}
	var dupErr error
	gjson.Get(raw, "indicators").ForEach(func(_, ind gjson.Result) bool {
		id := strings.TrimSpace(ind.Get("id").String())
		if seen[id] {
			dupErr = configErrf("duplicate indicator id %q", id)
			return false
		}
		seen[id] = true
		return true
	})
	if dupErr != nil {
		return dupErr
	}

	// 完整语义校验（悬空引用、操作数合法性）直接复用构造器。
	var def Definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return configErrf("definition json: %v", err)
	}
	_, err = NewComposable(def)
	return err
}
