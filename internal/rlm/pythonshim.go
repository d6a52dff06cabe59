package rlm

// sandboxBootstrap is piped into `python3 -u -c` as the sandbox
// process's entire program. It speaks the same line-delimited
// JSON-RPC protocol as Conn: it reads "execute" requests from stdin,
// runs the given code in a namespace exposing repo, files_containing,
// files_importing, file_exists, list_files_matching, get_file_slice,
// llm_query, llm_query_parallel, FINAL, and FINAL_VAR as flat
// top-level names, and writes one response per request to stdout.
// Calls the generated code makes to the repo-navigation and llm_query
// functions are proxied back to the host as nested requests on the
// same stdout/stdin pair, blocking until the host's response line
// arrives (§4.7, §6).
const sandboxBootstrap = `
import sys, io, json, contextlib, threading

_lock = threading.Lock()
_next_id = 0
_pending = {}

class FinalAnswer(Exception):
    def __init__(self, value, var=None):
        self.value = value
        self.var = var

def _write(msg):
    with _lock:
        sys.__stdout__.write(json.dumps(msg) + "\n")
        sys.__stdout__.flush()

def _call_host(method, params):
    global _next_id
    with _lock:
        _next_id += 1
        call_id = _next_id
        ev = threading.Event()
        _pending[call_id] = (ev, {})
    _write({"jsonrpc": "2.0", "id": call_id, "method": method, "params": params})
    ev, box = _pending[call_id]
    ev.wait()
    del _pending[call_id]
    if "error" in box:
        raise RuntimeError(box["error"])
    return box.get("result")

def files_containing(pattern):
    return _call_host("files_containing", {"pattern": pattern})

def files_importing(module):
    return _call_host("files_importing", {"module": module})

def file_exists(path):
    return _call_host("file_exists", {"path": path})

def list_files_matching(glob):
    return _call_host("list_files_matching", {"glob": glob})

def get_file_slice(path, start_line, end_line):
    return _call_host("get_file_slice", {"path": path, "start_line": start_line, "end_line": end_line})

def llm_query(prompt, model="haiku", **kwargs):
    return _call_host("llm_query", {"prompt": prompt, "model": model})

def llm_query_parallel(prompts, model="haiku"):
    return _call_host("llm_query_parallel", {"prompts": prompts, "model": model})

def FINAL(answer):
    raise FinalAnswer(str(answer))

def FINAL_VAR(name):
    raise FinalAnswer(str(_namespace.get(name)), var=name)

# repo's static metadata (root, changed files, previews) is rendered
# into the system prompt text by the host, not carried over this
# channel, so the namespace entry is a placeholder rather than a
# methods object.
_namespace = {
    "repo": None,
    "files_containing": files_containing,
    "files_importing": files_importing,
    "file_exists": file_exists,
    "list_files_matching": list_files_matching,
    "get_file_slice": get_file_slice,
    "llm_query": llm_query,
    "llm_query_parallel": llm_query_parallel,
    "FINAL": FINAL,
    "FINAL_VAR": FINAL_VAR,
}

def _handle_execute(code):
    out = io.StringIO()
    err = io.StringIO()
    try:
        with contextlib.redirect_stdout(out), contextlib.redirect_stderr(err):
            exec(code, _namespace)
        return {"status": "ok", "stdout": out.getvalue(), "stderr": err.getvalue()}
    except FinalAnswer as fa:
        return {"status": "final", "stdout": out.getvalue(), "stderr": err.getvalue(), "final": fa.value}
    except Exception as e:
        return {"status": "error", "stdout": out.getvalue(), "stderr": err.getvalue(), "error": str(e)}

def _main():
    for line in sys.stdin:
        line = line.strip()
        if not line:
            continue
        msg = json.loads(line)
        if "method" in msg and "id" in msg:
            method = msg["method"]
            params = msg.get("params", {})
            if method == "execute":
                def _run(req_id=msg["id"], code=params.get("code", "")):
                    _write({"jsonrpc": "2.0", "id": req_id, "result": _handle_execute(code)})
                threading.Thread(target=_run, daemon=True).start()
            elif method == "ping":
                _write({"jsonrpc": "2.0", "id": msg["id"], "result": "pong"})
            else:
                _write({"jsonrpc": "2.0", "id": msg["id"], "error": {"code": -32601, "message": "unknown method"}})
        elif "id" in msg and msg["id"] in _pending:
            ev, box = _pending[msg["id"]]
            if "error" in msg:
                box["error"] = msg["error"].get("message", "rpc error")
            else:
                box["result"] = msg.get("result")
            ev.set()

_main()
`
