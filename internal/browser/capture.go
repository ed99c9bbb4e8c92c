package browser

// bindingName is the runtime binding the capture script reports through.
const bindingName = "__mlxSignal"

// captureScript runs in every document of the tab. It reports mutations,
// scrolls and watched image loads through the binding and exposes the
// snapshot helpers the Go side evaluates.
const captureScript = `(() => {
  if (window.__mlx) return;
  const send = (msg) => {
    try { if (typeof window.__mlxSignal === "function") window.__mlxSignal(JSON.stringify(msg)); } catch (e) {}
  };
  const isMedia = (n) => n.nodeType === 1 && (n.tagName === "IMG" || n.tagName === "CANVAS");
  const hasMedia = (n) => n.nodeType === 1 && typeof n.querySelector === "function" && n.querySelector("img,canvas") !== null;
  const frameDoc = () => {
    const f = document.querySelector("iframe");
    if (!f) return { present: false };
    try {
      const d = f.contentDocument;
      if (!d) return { present: true, accessible: false };
      return { present: true, accessible: true, doc: d, win: f.contentWindow };
    } catch (e) {
      return { present: true, accessible: false };
    }
  };

  const observe = () => {
    new MutationObserver((records) => {
      const added = [];
      for (const r of records) {
        for (const n of r.addedNodes) {
          if (n.nodeType !== 1) continue;
          added.push({ tag: n.tagName.toLowerCase(), hasMedia: isMedia(n) || hasMedia(n) });
        }
      }
      if (added.length) send({ kind: "mutation", added });
    }).observe(document.documentElement, { childList: true, subtree: true });
    window.addEventListener("scroll", () => send({ kind: "scroll" }), { passive: true });
    const f = frameDoc();
    if (f.accessible && f.win) {
      f.win.addEventListener("scroll", () => send({ kind: "scroll" }), { passive: true });
    }
  };
  if (document.documentElement) observe();
  else document.addEventListener("DOMContentLoaded", observe, { once: true });

  const abs = (u, base) => { try { return new URL(u, base).href; } catch (e) { return u; } };

  const capture = (doc, win, depth) => {
    const imgs = Array.from(doc.images);
    const scrollY = win.scrollY || 0;
    const images = imgs.map((img, i) => {
      img.setAttribute("data-mlx-index", String(i));
      const r = img.getBoundingClientRect();
      return {
        index: i,
        naturalWidth: img.naturalWidth || 0,
        naturalHeight: img.naturalHeight || 0,
        complete: !!img.complete,
        top: r.top + scrollY,
        currentSrc: img.currentSrc || "",
      };
    });
    const canvases = Array.from(doc.querySelectorAll("canvas")).map((c, i) => {
      const out = { index: i, width: c.width, height: c.height, dataUrl: "" };
      if (c.width * c.height >= 200000) {
        try { out.dataUrl = c.toDataURL("image/png"); } catch (e) {}
      }
      return out;
    });
    let resources = [];
    try {
      resources = win.performance.getEntriesByType("resource").map((e) => ({
        name: e.name, initiatorType: e.initiatorType || "", startTime: e.startTime || 0,
      }));
    } catch (e) {}
    const snap = {
      url: doc.location ? doc.location.href : "",
      html: doc.documentElement ? doc.documentElement.outerHTML : "",
      images, canvases, resources,
    };
    const f = doc.querySelector("iframe");
    if (f) {
      snap.frame = { present: true, accessible: false };
      if (depth < 3) {
        try {
          const d = f.contentDocument;
          if (d && d.documentElement) {
            snap.frame.accessible = true;
            snap.frame.snapshot = capture(d, f.contentWindow, depth + 1);
            if (!snap.frame.snapshot.url) snap.frame.snapshot.url = abs(f.getAttribute("src") || "", doc.baseURI);
          }
        } catch (e) {}
      }
    }
    return snap;
  };

  const watched = new Set();
  let io = null;
  const onLoaded = (img) => {
    const u = img.__mlxKey;
    if (!u || !watched.has(u)) return;
    watched.delete(u);
    send({ kind: "loaded", url: u });
  };
  const proximity = () => {
    if (io || typeof IntersectionObserver !== "function") return io;
    io = new IntersectionObserver((entries) => {
      for (const e of entries) {
        if (!e.isIntersecting) continue;
        io.unobserve(e.target);
        const img = e.target;
        if (img.complete && img.naturalWidth > 0) onLoaded(img);
        else img.addEventListener("load", () => onLoaded(img), { once: true });
      }
    }, { rootMargin: "200px" });
    return io;
  };

  const scrollTarget = () => {
    const root = document.scrollingElement || document.documentElement;
    const f = frameDoc();
    if (root.scrollHeight <= window.innerHeight + 1 && f.accessible && f.win) {
      const fr = f.doc.scrollingElement || f.doc.documentElement;
      return { target: "iframe", el: fr, win: f.win };
    }
    return { target: "page", el: root, win: window };
  };

  window.__mlx = {
    snapshot: () => capture(document, window, 0),
    mediaCount: () => document.querySelectorAll("img,canvas").length,
    watch: (urls) => {
      const obs = proximity();
      const want = new Set(urls);
      const lazy = ["data-src", "data-original", "data-lazy-src", "data-lazy", "lazy-src", "data-url", "data-echo"];
      for (const img of Array.from(document.images)) {
        const refs = [img.currentSrc, img.getAttribute("src")].concat(lazy.map((a) => img.getAttribute(a)));
        const u = refs.filter(Boolean).map((r) => abs(r, document.baseURI)).find((r) => want.has(r));
        if (!u || watched.has(u)) continue;
        watched.add(u);
        img.__mlxKey = u;
        if (obs) obs.observe(img);
        else img.addEventListener("load", () => onLoaded(img), { once: true });
      }
      return watched.size;
    },
    scrollInfo: () => {
      const t = scrollTarget();
      return { target: t.target, height: t.el.scrollHeight, viewport: t.win.innerHeight, y: t.win.scrollY };
    },
    scrollTo: (target, y) => {
      const t = scrollTarget();
      const win = target === t.target ? t.win : window;
      win.scrollTo(0, y);
      return win.scrollY;
    },
  };
})();`
