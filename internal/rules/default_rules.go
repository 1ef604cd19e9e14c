package rules

// DefaultRulesYAML contains the built-in detection rules, matched against
// the contents of extracted distribution files.
const DefaultRulesYAML = `
version: "1.0"
rules:
  # ============================================
  # CRITICAL - Immediate threats
  # ============================================

  - id: obfuscated-exec
    name: "Obfuscated Code Execution"
    description: "Decodes an encoded payload and feeds it straight into exec/eval"
    severity: critical
    require: all
    patterns:
      - type: regex
        value: "(?s)(b64decode|a2b_base64|unhexlify|decompress)\\s*\\("
      - type: regex
        value: "(exec|eval)\\s*\\("
    tags: [obfuscation, execution]

  - id: reverse-shell
    name: "Reverse Shell"
    description: "Spawns an interactive shell wired to a remote socket"
    severity: critical
    patterns:
      - type: regex
        value: "socket\\.socket\\([^)]*\\)[\\s\\S]{0,400}(subprocess|pty\\.spawn|os\\.dup2)"
      - type: substring
        value: "/dev/tcp/"
      - type: regex
        value: "bash\\s+-i\\s+>&"
    tags: [shell, c2]

  - id: credential-file-theft
    name: "Credential File Access"
    description: "Reads browser, SSH, or cloud credential stores"
    severity: critical
    patterns:
      - type: word
        values:
          - ".aws/credentials"
          - ".ssh/id_rsa"
          - "Login Data"
          - "Local State"
          - ".docker/config.json"
          - ".npmrc"
          - ".pypirc"
    tags: [credentials, exfiltration]

  - id: exfiltration-webhook
    name: "Webhook Exfiltration"
    description: "Posts data to a throwaway webhook or paste endpoint"
    severity: critical
    patterns:
      - type: word
        values:
          - "discord.com/api/webhooks"
          - "discordapp.com/api/webhooks"
          - "webhook.site"
          - "requestbin"
          - "pipedream.net"
          - "pastebin.com/api"
    tags: [network, exfiltration]

  # ============================================
  # HIGH - Serious concerns
  # ============================================

  - id: setup-install-hook
    name: "Install-Time Code Execution"
    description: "setup.py runs subprocess or network code at install time"
    severity: high
    require: all
    patterns:
      - type: regex
        value: "(cmdclass|class\\s+\\w*[Ii]nstall\\w*\\s*\\(\\s*install\\s*\\))"
      - type: regex
        value: "(subprocess|os\\.system|urlopen|requests\\.(get|post))"
    tags: [install, execution]

  - id: env-credential-harvest
    name: "Credential Environment Harvesting"
    description: "Reads credential-bearing environment variables"
    severity: high
    patterns:
      - type: regex
        value: "(environ|getenv)[\\s\\S]{0,80}(AWS_SECRET|AWS_ACCESS_KEY|GITHUB_TOKEN|NPM_TOKEN|API_KEY|PRIVATE_KEY)"
    tags: [credentials]

  - id: dropper-download-exec
    name: "Second-Stage Dropper"
    description: "Downloads a remote payload to disk and executes it"
    severity: high
    require: all
    patterns:
      - type: regex
        value: "(urlretrieve|urlopen|requests\\.get)\\s*\\("
      - type: regex
        value: "(os\\.system|subprocess\\.(call|run|Popen)|startfile)\\s*\\("
      - type: regex
        value: "\\.(exe|sh|bat|ps1|scr)[\"']"
    tags: [network, execution]

  - id: suspicious-ip-callback
    name: "Hardcoded IP Callback"
    description: "Connects to a hardcoded raw IP address"
    severity: high
    patterns:
      - type: regex
        value: "https?://\\d{1,3}\\.\\d{1,3}\\.\\d{1,3}\\.\\d{1,3}[:/]"
    tags: [network, c2]

  # ============================================
  # MEDIUM - Worth reviewing
  # ============================================

  - id: clipboard-hijack
    name: "Clipboard Tampering"
    description: "Monitors or rewrites clipboard contents, typical of address swappers"
    severity: medium
    patterns:
      - type: word
        values:
          - "pyperclip.copy"
          - "pyperclip.paste"
          - "clipboard.set_text"
          - "OpenClipboard"
    tags: [clipboard]

  - id: dynamic-import-obfuscation
    name: "Obfuscated Dynamic Import"
    description: "Builds module names at runtime from encoded fragments"
    severity: medium
    require: all
    patterns:
      - type: regex
        value: "__import__\\s*\\("
      - type: regex
        value: "(chr\\s*\\(|\\\\x[0-9a-f]{2}|\\[::-1\\])"
    tags: [obfuscation]

  - id: hidden-persistence
    name: "Persistence Mechanism"
    description: "Writes itself into autostart locations"
    severity: medium
    patterns:
      - type: word
        values:
          - "CurrentVersion\\Run"
          - "crontab -"
          - "/etc/rc.local"
          - ".bashrc"
          - "LaunchAgents"
    tags: [persistence]

  # ============================================
  # LOW - Context-dependent signals
  # ============================================

  - id: compiled-payload-marker
    name: "Embedded Compiled Payload"
    description: "Marshalled or compiled code objects embedded in source"
    severity: low
    patterns:
      - type: regex
        value: "marshal\\.loads\\s*\\("
      - type: substring
        value: "importlib.util.MAGIC_NUMBER"
    tags: [obfuscation]
`
